// Package caption picks a caption for every allocated slot.
package caption

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/classifier"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/runstate"
	"github.com/xaenox/sendplan/internal/storage"
)

// FallbackManualCaption marks a slot left for an operator to caption.
const FallbackManualCaption = "manual_caption_required"

// Weights of the candidate score terms. They should sum to 1.
type Weights struct {
	Freshness    float64 `mapstructure:"freshness"`
	Performance  float64 `mapstructure:"performance"`
	TypePriority float64 `mapstructure:"type_priority"`
	Diversity    float64 `mapstructure:"diversity"`
	Persona      float64 `mapstructure:"persona"`
}

// Floor is one degradation step of required caption quality.
type Floor struct {
	Freshness   float64 `mapstructure:"freshness"`
	Performance float64 `mapstructure:"performance"`
}

type Config struct {
	Weights        Weights `mapstructure:"weights"`
	Floors         []Floor `mapstructure:"floors"`
	CandidateLimit int     `mapstructure:"candidate_limit"`
	// UnrankedPriority is the type-priority term for content types absent
	// from the ranking.
	UnrankedPriority float64 `mapstructure:"unranked_priority"`
	RankStep         float64 `mapstructure:"rank_step"`
	MinRankPriority  float64 `mapstructure:"min_rank_priority"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Freshness:    0.40,
			Performance:  0.35,
			TypePriority: 0.15,
			Diversity:    0.05,
			Persona:      0.05,
		},
		Floors: []Floor{
			{Freshness: 30, Performance: 40},
			{Freshness: 20, Performance: 25},
			{Freshness: 10, Performance: 10},
			{Freshness: 0, Performance: 0},
		},
		CandidateLimit:   50,
		UnrankedPriority: 50,
		RankStep:         20,
		MinRankPriority:  20,
	}
}

// Selection is the outcome for one slot. A nil Caption is the manual
// caption sentinel: an operator must write one.
type Selection struct {
	Caption *models.CaptionCandidate
	Score   float64
	// Step is the index of the floor that produced the pick.
	Step     int
	Degraded bool
}

// ManualRequired reports whether no caption could be picked.
func (s Selection) ManualRequired() bool {
	return s.Caption == nil
}

type Selector struct {
	cfg        Config
	provider   storage.CreatorDataProvider
	classifier classifier.Classifier
	logger     *zap.Logger
}

func NewSelector(cfg Config, provider storage.CreatorDataProvider, cls classifier.Classifier, logger *zap.Logger) *Selector {
	if len(cfg.Floors) == 0 {
		cfg.Floors = DefaultConfig().Floors
	}
	return &Selector{cfg: cfg, provider: provider, classifier: cls, logger: logger}
}

// Select picks the best unused caption for a send type. It walks the floors
// from strictest to loosest and returns the manual caption sentinel when
// every step comes up empty. Only fatal collaborator errors are returned.
func (s *Selector) Select(ctx context.Context, sendType string, state *runstate.RunState) (Selection, error) {
	for step, floor := range s.cfg.Floors {
		candidates, err := s.candidates(ctx, sendType, step, floor, state)
		if err != nil {
			if apperr.IsFatal(err) {
				return Selection{}, err
			}
			s.logger.Warn("Caption candidates unavailable",
				zap.String("send_type", sendType),
				zap.Int("step", step),
				zap.Error(err))
			continue
		}

		best, score, ok := s.best(ctx, candidates, state)
		if !ok {
			continue
		}

		state.UsedCaptions[best.ID] = true
		state.ContentTypeUsage[best.ContentType]++

		sel := Selection{Caption: &best, Score: score, Step: step, Degraded: step > 0}
		if sel.Degraded {
			s.logger.Info("Caption selected below preferred floor",
				zap.String("send_type", sendType),
				zap.String("caption_id", best.ID),
				zap.Int("step", step))
		}
		return sel, nil
	}

	err := apperr.New(apperr.CodeCaptionUnavailable, apperr.High, "no usable caption for %s", sendType).
		WithFallback(FallbackManualCaption)
	state.Warn(err.Error())
	s.logger.Warn("Manual caption required",
		zap.String("run_id", state.RunID),
		zap.String("send_type", sendType))
	return Selection{Step: len(s.cfg.Floors)}, nil
}

func (s *Selector) candidates(ctx context.Context, sendType string, step int, floor Floor, state *runstate.RunState) ([]models.CaptionCandidate, error) {
	key := fmt.Sprintf("%s@%d", sendType, step)
	if cached, ok := state.CaptionCache[key]; ok {
		return cached, nil
	}
	list, err := s.provider.GetCaptionCandidates(ctx, sendType, storage.CaptionFilter{
		CreatorID:      state.CreatorID,
		MinFreshness:   floor.Freshness,
		MinPerformance: floor.Performance,
		Limit:          s.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	state.CaptionCache[key] = list
	return list, nil
}

// best returns the highest scoring unused candidate. Ties go to the lower ID.
func (s *Selector) best(ctx context.Context, candidates []models.CaptionCandidate, state *runstate.RunState) (models.CaptionCandidate, float64, bool) {
	var (
		pick  models.CaptionCandidate
		top   float64
		found bool
	)
	ordered := append([]models.CaptionCandidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, c := range ordered {
		if state.UsedCaptions[c.ID] {
			continue
		}
		score := s.Score(ctx, c, state)
		if !found || score > top {
			pick, top, found = c, score, true
		}
	}
	return pick, top, found
}

// Score is the weighted sum of the five candidate terms, each in [0,100].
func (s *Selector) Score(ctx context.Context, c models.CaptionCandidate, state *runstate.RunState) float64 {
	w := s.cfg.Weights
	persona := classifier.NeutralFit
	if s.classifier != nil {
		persona = s.classifier.PersonaFit(ctx, state.Creator.Persona, c)
	}
	return w.Freshness*clamp(c.Freshness) +
		w.Performance*clamp(c.Performance) +
		w.TypePriority*s.typePriority(c.ContentType, state.Quota.ContentPriority) +
		w.Diversity*100/float64(1+state.ContentTypeUsage[c.ContentType]) +
		w.Persona*clamp(persona)
}

func (s *Selector) typePriority(contentType string, ranking []string) float64 {
	for rank, t := range ranking {
		if t == contentType {
			p := 100 - s.cfg.RankStep*float64(rank)
			if p < s.cfg.MinRankPriority {
				p = s.cfg.MinRankPriority
			}
			return p
		}
	}
	return s.cfg.UnrankedPriority
}

// Apply copies a selection onto an item.
func Apply(item *models.ScheduledItem, sel Selection) {
	if sel.ManualRequired() {
		item.CaptionID = nil
		item.NeedsCaption = true
		item.ContentType = ""
		item.CaptionFreshness = 0
		item.CaptionPerformance = 0
		item.CaptionDegraded = false
		return
	}
	id := sel.Caption.ID
	item.CaptionID = &id
	item.NeedsCaption = false
	item.ContentType = sel.Caption.ContentType
	item.CaptionFreshness = sel.Caption.Freshness
	item.CaptionPerformance = sel.Caption.Performance
	item.CaptionDegraded = sel.Degraded
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
