package model

import (
	"time"
)

// MiqaatKind distinguishes the two event shapes.
type MiqaatKind string

const (
	// KindSingleSession events store absolute session instants directly.
	KindSingleSession MiqaatKind = "single_session"
	// KindMultiDay events store sessions as day index + time-of-day,
	// anchored to the miqaat start date.
	KindMultiDay MiqaatKind = "multi_day"
)

// Status is the time-window-derived attendance classification.
type Status string

const (
	StatusEarly   Status = "early"
	StatusPresent Status = "present"
	StatusLate    Status = "late"
)

// Session is a single markable time window within a Miqaat.
//
// For single-session miqaats Start/End/Reporting are absolute instants. For
// multi-day miqaats only their clock components are meaningful; the window
// package anchors them to the miqaat start date plus (Day-1) days in the
// miqaat's zone. Reporting zero means "same as Start".
type Session struct {
	ID        string    `json:"id"`
	Day       int       `json:"day"`
	Name      string    `json:"name"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Reporting time.Time `json:"reporting,omitempty"`
}

// ComplianceFlags is the fixed set of checklist toggles a miqaat may enable.
type ComplianceFlags struct {
	Uniform  bool `json:"uniform"`
	Topi     bool `json:"topi"`
	Offering bool `json:"offering"`
}

// Any reports whether at least one flag is enabled.
func (f ComplianceFlags) Any() bool {
	return f.Uniform || f.Topi || f.Offering
}

// CompliancePayload holds operator-attested answers to the enabled flags.
// Nil means unanswered; answers for disabled flags are rejected.
type CompliancePayload struct {
	Uniform  *bool `json:"uniform,omitempty"`
	Topi     *bool `json:"topi,omitempty"`
	Offering *bool `json:"offering,omitempty"`
}

// Validate checks the payload answers exactly the enabled flags.
func (p CompliancePayload) Validate(flags ComplianceFlags) error {
	checks := []struct {
		name    string
		enabled bool
		answer  *bool
	}{
		{"uniform", flags.Uniform, p.Uniform},
		{"topi", flags.Topi, p.Topi},
		{"offering", flags.Offering, p.Offering},
	}
	for _, c := range checks {
		if c.enabled && c.answer == nil {
			return &ComplianceError{Field: c.name, Missing: true}
		}
		if !c.enabled && c.answer != nil {
			return &ComplianceError{Field: c.name, Missing: false}
		}
	}
	return nil
}

// Member is a directory record. ITS is the primary identifier; CardID is the
// optional secondary one. Either may be used for lookup.
type Member struct {
	ITS      string `json:"its"`
	CardID   string `json:"card_id,omitempty"`
	Name     string `json:"name"`
	Mohallah string `json:"mohallah,omitempty"`
	Team     string `json:"team,omitempty"`
}

// Miqaat is a scheduled event with one or more sessions.
type Miqaat struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      MiqaatKind `json:"kind"`
	StartDate time.Time  `json:"start_date,omitempty"`
	Zone      string     `json:"zone,omitempty"`
	Sessions  []Session  `json:"sessions"`

	// Eligibility: explicit ITS allow-list wins, then mohallah/team lists.
	// All three empty means open to everyone.
	EligibleITS       []string `json:"eligible_its,omitempty"`
	EligibleMohallahs []string `json:"eligible_mohallahs,omitempty"`
	EligibleTeams     []string `json:"eligible_teams,omitempty"`

	Compliance ComplianceFlags `json:"compliance"`

	// Entries is the server-confirmed attendance snapshot, append-only.
	Entries []AttendanceEntry `json:"entries,omitempty"`
}

// Session returns the session with the given id, or nil.
func (m *Miqaat) Session(id string) *Session {
	for i := range m.Sessions {
		if m.Sessions[i].ID == id {
			return &m.Sessions[i]
		}
	}
	return nil
}

// OpenToAll reports whether no eligibility restriction is configured.
func (m *Miqaat) OpenToAll() bool {
	return len(m.EligibleITS) == 0 && len(m.EligibleMohallahs) == 0 && len(m.EligibleTeams) == 0
}

// Eligible applies the miqaat's eligibility rules to a member.
func (m *Miqaat) Eligible(mem Member) bool {
	if len(m.EligibleITS) > 0 {
		for _, its := range m.EligibleITS {
			if its == mem.ITS {
				return true
			}
		}
		return false
	}
	if len(m.EligibleMohallahs) > 0 || len(m.EligibleTeams) > 0 {
		for _, moh := range m.EligibleMohallahs {
			if moh != "" && moh == mem.Mohallah {
				return true
			}
		}
		for _, team := range m.EligibleTeams {
			if team != "" && team == mem.Team {
				return true
			}
		}
		return false
	}
	return true
}

// Marked reports whether a confirmed entry already exists for the pair.
func (m *Miqaat) Marked(memberITS, sessionID string) bool {
	for _, e := range m.Entries {
		if e.MemberITS == memberITS && e.SessionID == sessionID {
			return true
		}
	}
	return false
}

// AttendanceEntry is one confirmed (or staged) attendance record. At most
// one entry may exist per (MemberITS, SessionID) pair.
type AttendanceEntry struct {
	MemberITS  string             `json:"member_its"`
	MemberName string             `json:"member_name"`
	SessionID  string             `json:"session_id"`
	MarkedAt   time.Time          `json:"marked_at"`
	MarkedBy   string             `json:"marked_by"`
	Status     Status             `json:"status"`
	Compliance *CompliancePayload `json:"compliance,omitempty"`
}

// PendingRecord wraps an entry captured while offline, waiting for sync.
// Token is the client-generated idempotency token, stable across retries.
type PendingRecord struct {
	Token     string          `json:"token"`
	MiqaatID  string          `json:"miqaat_id"`
	Entry     AttendanceEntry `json:"entry"`
	QueuedAt  time.Time       `json:"queued_at"`
	LastError string          `json:"last_error,omitempty"`
}

// SyncReport is the three-way outcome of one reconciliation pass.
type SyncReport struct {
	Synced  int           `json:"synced"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Errors  []SyncFailure `json:"errors,omitempty"`
}

// SyncFailure records why one pending record could not be confirmed.
type SyncFailure struct {
	Token  string `json:"token"`
	Detail string `json:"detail"`
}
