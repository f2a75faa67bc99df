package marking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"miqaatsync/internal/model"
	"miqaatsync/internal/window"
)

// BulkResolution is the outcome of resolving a list of raw identifiers.
// Unresolvable identifiers are collected, not fatal: the run proceeds with
// the members that did resolve.
type BulkResolution struct {
	Items    []BulkItem
	NotFound []string
	Rejected []string // resolved but not eligible
}

// BulkItem pairs a resolved member with its compliance answers.
type BulkItem struct {
	Member  model.Member
	Payload *model.CompliancePayload
}

// Notice renders the aggregated lookup/eligibility failures for display, or
// "" when every identifier resolved.
func (r *BulkResolution) Notice() string {
	var parts []string
	if len(r.NotFound) > 0 {
		parts = append(parts, fmt.Sprintf("not found: %s", strings.Join(r.NotFound, ", ")))
	}
	if len(r.Rejected) > 0 {
		parts = append(parts, fmt.Sprintf("not eligible: %s", strings.Join(r.Rejected, ", ")))
	}
	return strings.Join(parts, "; ")
}

// SetAll is the bulk-edit helper: it applies one compliance payload to every
// resolved member that has no answers yet.
func (r *BulkResolution) SetAll(payload model.CompliancePayload) {
	for i := range r.Items {
		if r.Items[i].Payload == nil {
			p := payload
			r.Items[i].Payload = &p
		}
	}
}

// BulkReport is the per-run outcome of a bulk commit.
type BulkReport struct {
	Succeeded int
	Failed    int
	Errors    map[string]string // member ITS -> failure detail
}

// ResolveBulk resolves each identifier independently through lookup and
// eligibility. Hard directory failures abort; per-identifier misses are
// aggregated into the resolution.
func (w *Workflow) ResolveBulk(ctx context.Context, idents []string) (*BulkResolution, error) {
	if w.sessionID == "" {
		return nil, errors.New("marking: no session selected")
	}
	res := &BulkResolution{}
	seen := make(map[string]bool)
	for _, ident := range idents {
		mem, err := w.lookup(ctx, ident)
		if errors.Is(err, model.ErrMemberNotFound) {
			res.NotFound = append(res.NotFound, ident)
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen[mem.ITS] {
			continue
		}
		seen[mem.ITS] = true
		if !w.cfg.Miqaat.Eligible(*mem) {
			res.Rejected = append(res.Rejected, ident)
			continue
		}
		res.Items = append(res.Items, BulkItem{Member: *mem})
	}
	return res, nil
}

// CommitBulk runs duplicate check, window gate, compliance validation and
// commit once per member. Members are independent: a failure never rolls
// back earlier successes, and later members are still attempted.
func (w *Workflow) CommitBulk(ctx context.Context, items []BulkItem) BulkReport {
	report := BulkReport{Errors: make(map[string]string)}
	flags := w.cfg.Miqaat.Compliance

	for _, item := range items {
		if err := w.commitBulkItem(ctx, item, flags); err != nil {
			report.Failed++
			report.Errors[item.Member.ITS] = err.Error()
			continue
		}
		report.Succeeded++
	}
	return report
}

func (w *Workflow) commitBulkItem(ctx context.Context, item BulkItem, flags model.ComplianceFlags) error {
	if w.marked(item.Member.ITS) {
		return fmt.Errorf("%w: %s", model.ErrAlreadyMarked, item.Member.ITS)
	}
	switch w.resolved.Gate(w.now()) {
	case window.NotYetOpen:
		return model.ErrSessionNotOpen
	case window.Closed:
		return model.ErrSessionClosed
	}
	if flags.Any() {
		if item.Payload == nil {
			return fmt.Errorf("compliance answers required for %s", item.Member.ITS)
		}
		if err := item.Payload.Validate(flags); err != nil {
			return err
		}
	}
	_, err := w.commitMember(ctx, item.Member, item.Payload)
	return err
}
