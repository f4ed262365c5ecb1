package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
)

// GPTResponse is the structured answer requested from the model.
type GPTResponse struct {
	Fit    float64 `json:"fit"`
	Reason string  `json:"reason"`
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GPTClassifier asks a chat model for a numeric persona-fit score. It never
// writes caption text. Results are cached per caption so a run asks once.
type GPTClassifier struct {
	client    chatCompleter
	model     string
	maxTokens int
	fallback  Classifier
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]float64
}

func NewGPTClassifier(apiKey string, model string, maxTokens int, logger *zap.Logger) *GPTClassifier {
	return newGPTClassifier(openai.NewClient(apiKey), model, maxTokens, logger)
}

func newGPTClassifier(client chatCompleter, model string, maxTokens int, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		fallback:  NewKeywordClassifier(),
		logger:    logger,
		cache:     make(map[string]float64),
	}
}

func (c *GPTClassifier) PersonaFit(ctx context.Context, persona models.Persona, caption models.CaptionCandidate) float64 {
	key := caption.ID + "|" + persona.Tone + "|" + strings.Join(persona.Keywords, ",")
	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	fit := c.score(ctx, persona, caption)

	c.mu.Lock()
	c.cache[key] = fit
	c.mu.Unlock()
	return fit
}

func (c *GPTClassifier) score(ctx context.Context, persona models.Persona, caption models.CaptionCandidate) float64 {
	prompt := fmt.Sprintf(`Rate how well the caption matches the creator persona.
Persona tone: %s
Persona keywords: %s

Return only a JSON object with this structure:
{
    "fit": number between 0 and 100,
    "reason": "short_reason"
}

Caption: %s`, persona.Tone, strings.Join(persona.Keywords, ", "), caption.Text)

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: 0,
		},
	)
	if err != nil {
		c.logger.Warn("Persona fit request failed, using keyword scoring",
			zap.String("caption_id", caption.ID), zap.Error(err))
		return c.fallback.PersonaFit(ctx, persona, caption)
	}
	if len(resp.Choices) == 0 {
		return c.fallback.PersonaFit(ctx, persona, caption)
	}

	var gptResponse GPTResponse
	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	response = strings.TrimSuffix(strings.TrimPrefix(response, "```json"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &gptResponse); err != nil {
		c.logger.Warn("Failed to parse persona fit response",
			zap.Error(err),
			zap.String("response", response))
		return c.fallback.PersonaFit(ctx, persona, caption)
	}
	return max(0, min(100, gptResponse.Fit))
}
