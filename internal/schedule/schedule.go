// Package schedule parses drill schedules and computes their next run.
//
// A schedule is stored as JSON ({"kind":"cron",...}). Users may also write
// a plain cron expression, "every 30m" or "at 2026-01-02T15:04:05Z".
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// minInterval keeps interval drills from hammering the backend.
const minInterval = time.Minute

type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

var ErrInvalid = errors.New("invalid schedule")

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s Schedule) validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("%w: bad cron expression %q", ErrInvalid, s.CronExpr)
		}
	case KindInterval:
		if time.Duration(s.IntervalMs)*time.Millisecond < minInterval {
			return fmt.Errorf("%w: interval must be at least %s", ErrInvalid, minInterval)
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("%w: at_ms must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, s.Kind)
	}
	return nil
}

// Normalize turns any accepted spelling into the stored JSON form.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	var s Schedule
	switch {
	case strings.HasPrefix(raw, "{"):
		p, err := Parse(raw)
		if err != nil {
			return "", err
		}
		s = *p
	case strings.HasPrefix(raw, "every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(raw, "every ")))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		s = Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}
	case strings.HasPrefix(raw, "at "):
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(raw, "at ")))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		s = Schedule{Kind: KindOnce, AtMs: t.UnixMilli()}
	default:
		s = Schedule{Kind: KindCron, CronExpr: raw}
	}
	if err := s.validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Next returns the first run strictly after now, or nil when the schedule
// is invalid or a one-off already passed.
func Next(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch s.Kind {
	case KindCron:
		next, err = gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
	case KindInterval:
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		next = time.UnixMilli(s.AtMs)
		if !next.After(now) {
			return nil
		}
	}
	return &next
}

// Describe renders a schedule for listings.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		return "every " + (time.Duration(s.IntervalMs) * time.Millisecond).String()
	default:
		return "once at " + time.UnixMilli(s.AtMs).UTC().Format(time.RFC3339)
	}
}
