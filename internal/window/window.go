// Package window turns session definitions and a clock reading into
// open/closed gating decisions and early/present/late classifications.
// Everything here is pure; callers supply "now".
package window

import (
	"fmt"
	"time"

	"miqaatsync/internal/model"
)

// Gate is the open/closed decision for a marking attempt.
type Gate int

const (
	Open Gate = iota
	NotYetOpen
	Closed
)

func (g Gate) String() string {
	switch g {
	case Open:
		return "open"
	case NotYetOpen:
		return "not_yet_open"
	default:
		return "closed"
	}
}

// Resolved holds a session's absolute bounds, with reporting defaulted to
// start when the session has no explicit reporting cutoff.
type Resolved struct {
	Start     time.Time
	End       time.Time
	Reporting time.Time
}

// Resolve computes absolute bounds for a session of the given miqaat.
//
// Single-session miqaats store absolute instants and pass through untouched.
// Multi-day miqaats store time-of-day only: bounds are anchored to midnight
// of the miqaat start date in the miqaat's zone, plus (day-1) calendar days.
// One zone per miqaat keeps day arithmetic stable across DST shifts; an
// unset zone means UTC.
func Resolve(m *model.Miqaat, s model.Session) (Resolved, error) {
	var r Resolved
	if m.Kind == model.KindMultiDay {
		loc := time.UTC
		if m.Zone != "" {
			var err error
			loc, err = time.LoadLocation(m.Zone)
			if err != nil {
				return Resolved{}, fmt.Errorf("miqaat %s zone: %w", m.ID, err)
			}
		}
		if s.Day < 1 {
			return Resolved{}, fmt.Errorf("session %s: day index %d out of range", s.ID, s.Day)
		}
		sd := m.StartDate.In(loc)
		anchor := time.Date(sd.Year(), sd.Month(), sd.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, s.Day-1)
		r.Start = atClock(anchor, s.Start, loc)
		r.End = atClock(anchor, s.End, loc)
		if !s.Reporting.IsZero() {
			r.Reporting = atClock(anchor, s.Reporting, loc)
		}
	} else {
		r.Start = s.Start
		r.End = s.End
		r.Reporting = s.Reporting
	}
	if r.Reporting.IsZero() {
		r.Reporting = r.Start
	}
	if r.Reporting.After(r.Start) || r.Start.After(r.End) {
		return Resolved{}, fmt.Errorf("session %s: bounds must satisfy reporting <= start <= end", s.ID)
	}
	return r, nil
}

// atClock places the clock components of t onto the anchor day.
func atClock(anchor, t time.Time, loc *time.Location) time.Time {
	h, m, sec := t.Clock()
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), h, m, sec, 0, loc)
}

// Gate applies the open/closed rule strictly around [start, end].
func (r Resolved) Gate(now time.Time) Gate {
	switch {
	case now.Before(r.Start):
		return NotYetOpen
	case now.After(r.End):
		return Closed
	default:
		return Open
	}
}

// Classify derives the attendance status from [reporting, end]. Late is only
// produced for instants past the session end, which the gate never admits
// for a live marking attempt; it arises when an offline-queued entry is
// reconciled after its window closed.
func (r Resolved) Classify(now time.Time) model.Status {
	switch {
	case now.Before(r.Reporting):
		return model.StatusEarly
	case !now.After(r.End):
		return model.StatusPresent
	default:
		return model.StatusLate
	}
}
