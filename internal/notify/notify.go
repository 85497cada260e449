// Package notify delivers run reports to humans outside the process.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/mtzanidakis/warroom/internal/crew"
)

// Report is the summary of one finished run.
type Report struct {
	Title    string
	RunID    string
	Mode     string
	Complete bool
	Failed   []string
	Blocked  []string
	Output   string
	Error    string
}

func NewReport(title string, res *crew.RunResult, runErr error) Report {
	r := Report{Title: title}
	if res != nil {
		r.RunID = res.RunID
		r.Mode = res.Mode
		r.Complete = res.Complete
		r.Failed = res.Keys(crew.StateFailed)
		r.Blocked = res.Keys(crew.StateBlocked)
		r.Output = res.FinalOutput
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

func (r Report) Status() string {
	switch {
	case r.Error != "" && r.RunID == "":
		return "failed"
	case r.Complete:
		return "complete"
	default:
		return "incomplete"
	}
}

// Text renders the report as plain text for chat transports.
func (r Report) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", r.Title, r.Status())
	if r.Mode != "" {
		fmt.Fprintf(&sb, " (%s mode)", r.Mode)
	}
	sb.WriteString("\n")
	if r.RunID != "" {
		fmt.Fprintf(&sb, "Run: %s\n", r.RunID)
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(&sb, "Failed: %s\n", strings.Join(r.Failed, ", "))
	}
	if len(r.Blocked) > 0 {
		fmt.Fprintf(&sb, "Blocked: %s\n", strings.Join(r.Blocked, ", "))
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", r.Error)
	}
	if r.Output != "" {
		sb.WriteString("\n")
		sb.WriteString(r.Output)
	}
	return strings.TrimRight(sb.String(), "\n")
}

type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Report) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Slack posts reports to an incoming webhook.
type Slack struct {
	webhook string
}

func NewSlack(webhook string) *Slack {
	return &Slack{webhook: webhook}
}

func (s *Slack) Notify(ctx context.Context, r Report) error {
	color := "good"
	if !r.Complete {
		color = "danger"
	}

	fields := []slack.AttachmentField{{Title: "Status", Value: r.Status(), Short: true}}
	if r.Mode != "" {
		fields = append(fields, slack.AttachmentField{Title: "Mode", Value: r.Mode, Short: true})
	}
	if len(r.Failed) > 0 {
		fields = append(fields, slack.AttachmentField{Title: "Failed", Value: strings.Join(r.Failed, ", "), Short: true})
	}
	if len(r.Blocked) > 0 {
		fields = append(fields, slack.AttachmentField{Title: "Blocked", Value: strings.Join(r.Blocked, ", "), Short: true})
	}

	text := r.Output
	if text == "" {
		text = r.Error
	}
	msg := &slack.WebhookMessage{
		Text: r.Title,
		Attachments: []slack.Attachment{{
			Color:  color,
			Footer: r.RunID,
			Text:   text,
			Fields: fields,
		}},
	}
	if err := slack.PostWebhookContext(ctx, s.webhook, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
