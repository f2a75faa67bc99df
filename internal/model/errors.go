package model

import (
	"errors"
	"fmt"
)

// Failure classes shared by the workflow, remote client and reconciler.
// Soft errors (already marked, conflict, stale cache) are reported but never
// abort durable state; hard errors leave the queue and cache untouched.
var (
	ErrMemberNotFound       = errors.New("member not found")
	ErrNotEligible          = errors.New("member not eligible for this miqaat")
	ErrAlreadyMarked        = errors.New("member already marked for this session")
	ErrSessionNotOpen       = errors.New("session has not opened yet")
	ErrSessionClosed        = errors.New("session window has closed")
	ErrConflict             = errors.New("attendance entry already exists")
	ErrCacheStale           = errors.New("member cache is stale for this miqaat")
	ErrDirectoryUnavailable = errors.New("member directory unavailable")
)

// ComplianceError reports a payload answer that does not match the miqaat's
// enabled checklist flags.
type ComplianceError struct {
	Field   string
	Missing bool
}

func (e *ComplianceError) Error() string {
	if e.Missing {
		return fmt.Sprintf("compliance answer required for %q", e.Field)
	}
	return fmt.Sprintf("compliance answer for %q not enabled on this miqaat", e.Field)
}
