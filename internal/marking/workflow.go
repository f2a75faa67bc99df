// Package marking implements the attendance capture workflow: identifier
// lookup, eligibility and duplicate checks, session-window gating, the
// compliance checklist and the commit step, online or offline.
package marking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"miqaatsync/internal/model"
	"miqaatsync/internal/pending"
	"miqaatsync/internal/window"
)

// State is the workflow's single current-state field. Illegal combinations
// of the old boolean/nullable flags are unrepresentable.
type State int

const (
	StateIdle State = iota
	StateLookup
	StateEligibility
	StateDuplicate
	StateWindow
	StateCompliancePending
	StateCommit
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLookup:
		return "lookup"
	case StateEligibility:
		return "eligibility_check"
	case StateDuplicate:
		return "duplicate_check"
	case StateWindow:
		return "window_check"
	case StateCompliancePending:
		return "compliance_pending"
	case StateCommit:
		return "commit"
	case StateDone:
		return "done"
	default:
		return "error"
	}
}

// Directory resolves identifiers against the authoritative directory,
// used while online.
type Directory interface {
	LookupMember(ctx context.Context, ident string) (*model.Member, error)
}

// Cache is the device-local member directory, used while offline.
type Cache interface {
	LookupMember(ident string) (*model.Member, error)
	IsStale(miqaatID string) (bool, error)
}

// Writer is the idempotent remote attendance write.
type Writer interface {
	WriteAttendanceIfAbsent(ctx context.Context, miqaatID, idemToken string, entry model.AttendanceEntry) error
}

// Config wires a workflow. Operator identity is injected here rather than
// read from ambient state at call sites.
type Config struct {
	Miqaat    *model.Miqaat
	Directory Directory
	Cache     Cache
	Writer    Writer
	Queue     pending.Queue
	Operator  string
	Now       func() time.Time
}

// Workflow marks attendance for one selected session of one miqaat.
type Workflow struct {
	cfg    Config
	now    func() time.Time
	online bool

	state     State
	err       error
	sessionID string
	resolved  window.Resolved
	member    *model.Member
	staleWarn bool

	// staged dedups within this UI session before the remote store confirms.
	staged map[string]bool
	// sessionLog is most-recent-first and resets on session change.
	sessionLog []model.AttendanceEntry
}

// New creates a workflow in the idle state.
func New(cfg Config) (*Workflow, error) {
	if cfg.Miqaat == nil {
		return nil, errors.New("marking: miqaat required")
	}
	if cfg.Operator == "" {
		return nil, errors.New("marking: operator identity required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Workflow{
		cfg:    cfg,
		now:    now,
		state:  StateIdle,
		staged: make(map[string]bool),
	}, nil
}

// State returns the current workflow state.
func (w *Workflow) State() State { return w.state }

// Err returns the cause recorded when the workflow last entered the error
// state.
func (w *Workflow) Err() error { return w.err }

// Member returns the member resolved by the current attempt, for UI display
// while the compliance checklist is pending.
func (w *Workflow) Member() *model.Member { return w.member }

// CacheStale reports whether the last offline lookup ran against a cache
// refreshed for a different miqaat. A warning, never a failure.
func (w *Workflow) CacheStale() bool { return w.staleWarn }

// SetOnline flips the connectivity mode; driven by the host's signal.
func (w *Workflow) SetOnline(online bool) { w.online = online }

// Online reports the current connectivity mode.
func (w *Workflow) Online() bool { return w.online }

// SessionLog returns the entries committed for the selected session,
// most recent first.
func (w *Workflow) SessionLog() []model.AttendanceEntry {
	out := make([]model.AttendanceEntry, len(w.sessionLog))
	copy(out, w.sessionLog)
	return out
}

// SelectSession picks the session to mark against, resolves its window
// bounds and resets the session log.
func (w *Workflow) SelectSession(sessionID string) error {
	sess := w.cfg.Miqaat.Session(sessionID)
	if sess == nil {
		return fmt.Errorf("marking: unknown session %s", sessionID)
	}
	resolved, err := window.Resolve(w.cfg.Miqaat, *sess)
	if err != nil {
		return err
	}
	w.sessionID = sessionID
	w.resolved = resolved
	w.sessionLog = nil
	w.reset()
	return nil
}

// Reset abandons the current attempt and returns to idle. The session
// selection and log survive.
func (w *Workflow) Reset() {
	w.reset()
}

func (w *Workflow) reset() {
	w.state = StateIdle
	w.err = nil
	w.member = nil
}

func (w *Workflow) fail(err error) error {
	w.state = StateErrored
	w.err = err
	return err
}

// Start runs lookup, eligibility, duplicate and window checks for one
// identifier. When the miqaat has compliance flags enabled it stops in the
// compliance-pending state and returns (nil, nil); the caller completes the
// attempt with SubmitCompliance. Otherwise it commits immediately.
func (w *Workflow) Start(ctx context.Context, ident string) (*model.AttendanceEntry, error) {
	if w.sessionID == "" {
		return nil, w.fail(errors.New("marking: no session selected"))
	}
	w.reset()

	w.state = StateLookup
	mem, err := w.lookup(ctx, ident)
	if err != nil {
		return nil, w.fail(err)
	}
	w.member = mem

	w.state = StateEligibility
	if !w.cfg.Miqaat.Eligible(*mem) {
		return nil, w.fail(fmt.Errorf("%w: %s", model.ErrNotEligible, mem.ITS))
	}

	w.state = StateDuplicate
	if w.marked(mem.ITS) {
		return nil, w.fail(fmt.Errorf("%w: %s", model.ErrAlreadyMarked, mem.ITS))
	}

	w.state = StateWindow
	switch w.resolved.Gate(w.now()) {
	case window.NotYetOpen:
		return nil, w.fail(model.ErrSessionNotOpen)
	case window.Closed:
		return nil, w.fail(model.ErrSessionClosed)
	}

	if w.cfg.Miqaat.Compliance.Any() {
		w.state = StateCompliancePending
		return nil, nil
	}
	return w.commit(ctx, nil)
}

// SubmitCompliance supplies the checklist answers and commits. Only legal
// from the compliance-pending state.
func (w *Workflow) SubmitCompliance(ctx context.Context, payload model.CompliancePayload) (*model.AttendanceEntry, error) {
	if w.state != StateCompliancePending {
		return nil, w.fail(fmt.Errorf("marking: compliance submitted in state %s", w.state))
	}
	if err := payload.Validate(w.cfg.Miqaat.Compliance); err != nil {
		// Stay pending: the operator corrects the checklist and resubmits.
		w.state = StateCompliancePending
		return nil, err
	}
	return w.commit(ctx, &payload)
}

func (w *Workflow) lookup(ctx context.Context, ident string) (*model.Member, error) {
	if ident == "" {
		return nil, model.ErrMemberNotFound
	}
	if w.online {
		if w.cfg.Directory == nil {
			return nil, model.ErrDirectoryUnavailable
		}
		return w.cfg.Directory.LookupMember(ctx, ident)
	}

	if w.cfg.Cache == nil {
		return nil, model.ErrDirectoryUnavailable
	}
	stale, err := w.cfg.Cache.IsStale(w.cfg.Miqaat.ID)
	if err == nil && stale && !w.staleWarn {
		w.staleWarn = true
		log.Printf("member cache is stale for miqaat %s; refresh before trusting offline lookups", w.cfg.Miqaat.ID)
	}
	mem, err := w.cfg.Cache.LookupMember(ident)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, model.ErrMemberNotFound
	}
	return mem, nil
}

func (w *Workflow) marked(its string) bool {
	return w.cfg.Miqaat.Marked(its, w.sessionID) || w.staged[its+"|"+w.sessionID]
}

// commit classifies the marking instant, then writes directly when online or
// appends to the pending queue when offline. A failed online write rolls
// back all optimistic state and preserves the cause.
func (w *Workflow) commit(ctx context.Context, payload *model.CompliancePayload) (*model.AttendanceEntry, error) {
	w.state = StateCommit
	entry, err := w.commitMember(ctx, *w.member, payload)
	if err != nil {
		return nil, w.fail(err)
	}
	w.state = StateDone
	return entry, nil
}

// commitMember is the shared commit step for single and bulk marking. It
// mutates nothing until the write (or enqueue) has succeeded.
func (w *Workflow) commitMember(ctx context.Context, mem model.Member, payload *model.CompliancePayload) (*model.AttendanceEntry, error) {
	entry := model.AttendanceEntry{
		MemberITS:  mem.ITS,
		MemberName: mem.Name,
		SessionID:  w.sessionID,
		MarkedAt:   w.now().UTC(),
		MarkedBy:   w.cfg.Operator,
		Status:     w.resolved.Classify(w.now()),
		Compliance: payload,
	}
	token := uuid.NewString()

	if w.online {
		if w.cfg.Writer == nil {
			return nil, errors.New("marking: no attendance writer configured")
		}
		err := w.cfg.Writer.WriteAttendanceIfAbsent(ctx, w.cfg.Miqaat.ID, token, entry)
		if errors.Is(err, model.ErrConflict) {
			// Another device won the race; converge silently.
			w.staged[entry.MemberITS+"|"+entry.SessionID] = true
			return nil, fmt.Errorf("%w: %s", model.ErrAlreadyMarked, entry.MemberITS)
		}
		if err != nil {
			return nil, err
		}
	} else {
		if w.cfg.Queue == nil {
			return nil, errors.New("marking: no pending queue configured")
		}
		rec := model.PendingRecord{
			Token:    token,
			MiqaatID: w.cfg.Miqaat.ID,
			Entry:    entry,
			QueuedAt: w.now().UTC(),
		}
		if err := w.cfg.Queue.Enqueue(rec); err != nil {
			return nil, err
		}
	}

	w.staged[entry.MemberITS+"|"+entry.SessionID] = true
	w.sessionLog = append([]model.AttendanceEntry{entry}, w.sessionLog...)
	return &entry, nil
}
