// Package notify tells operators about schedules that were not approved.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
)

// Review describes a validated run.
type Review struct {
	RunID      string
	CreatorID  string
	WeekStart  time.Time
	ScheduleID string
	Report     models.ValidationReport
}

type Notifier interface {
	NotifyReview(ctx context.Context, r Review) error
}

// Nop drops every review.
type Nop struct{}

func (Nop) NotifyReview(context.Context, Review) error { return nil }

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts needs_review and rejected verdicts to a chat.
type TelegramNotifier struct {
	api         sender
	chatID      int64
	maxFindings int
	logger      *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramNotifier(api, chatID, logger), nil
}

func newTelegramNotifier(api sender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{api: api, chatID: chatID, maxFindings: 5, logger: logger}
}

func (n *TelegramNotifier) NotifyReview(ctx context.Context, r Review) error {
	if r.Report.Status == models.StatusApproved {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, n.format(r))
	msg.ParseMode = "MarkdownV2"
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("Failed to send review notification",
			zap.Error(err),
			zap.Int64("chat_id", n.chatID),
			zap.String("creator_id", r.CreatorID))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (n *TelegramNotifier) format(r Review) string {
	title := "Schedule needs review"
	if r.Report.Status == models.StatusRejected {
		title = "Schedule rejected"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(title))
	fmt.Fprintf(&b, "Creator: `%s`\n", escapeMarkdown(r.CreatorID))
	fmt.Fprintf(&b, "Week: %s\n", escapeMarkdown(r.WeekStart.Format(time.DateOnly)))
	fmt.Fprintf(&b, "Score: %s\n", escapeMarkdown(fmt.Sprintf("%.0f", r.Report.Score)))
	if r.ScheduleID != "" {
		fmt.Fprintf(&b, "Schedule: `%s`\n", escapeMarkdown(r.ScheduleID))
	}

	if len(r.Report.Violations) > 0 {
		b.WriteString("\n*Violations:*\n")
		n.writeFindings(&b, r.Report.Violations)
	}
	if len(r.Report.Warnings) > 0 {
		fmt.Fprintf(&b, "\n*Warnings \\(%d\\):*\n", len(r.Report.Warnings))
		n.writeFindings(&b, r.Report.Warnings)
	}
	return b.String()
}

func (n *TelegramNotifier) writeFindings(b *strings.Builder, findings []models.Finding) {
	for i, f := range findings {
		if i == n.maxFindings {
			fmt.Fprintf(b, "%s\n", escapeMarkdown(fmt.Sprintf("... and %d more", len(findings)-i)))
			return
		}
		fmt.Fprintf(b, "\\- %s: %s\n", escapeMarkdown("#"+f.Code), escapeMarkdown(f.Message))
	}
}

func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
