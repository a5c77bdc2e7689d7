// Copyright 2024-2026 Aiku AI

package syncengine

import (
	"github.com/aiku/anysync/pkg/rules"
)

// Kind names the intent an inbound event triggered.
type Kind string

const (
	KindMessage Kind = "message"
	KindRecall  Kind = "recall"
	KindEdit    Kind = "edit"
)

// Status is the outcome for one target of an intent.
type Status string

const (
	StatusSent     Status = "sent"
	StatusRecalled Status = "recalled"
	StatusEdited   Status = "edited"
	StatusResent   Status = "resent"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// TargetResult is the outcome for one target. MessageID is the target-side
// message ID after the operation, when there is one.
type TargetResult struct {
	Target    rules.Target
	Status    Status
	MessageID string
	Err       error
}

// Result reports what an intent did. Dropped is set, with a Reason, when the
// event was not acted upon at all.
type Result struct {
	Kind      Kind
	Platform  string
	MessageID string
	TraceID   string
	Dropped   bool
	Reason    string
	Targets   []TargetResult
}

// Count returns how many targets ended with status.
func (r *Result) Count(status Status) int {
	n := 0
	for _, t := range r.Targets {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Target returns the result for a target platform and group.
func (r *Result) Target(platform, groupID string) (TargetResult, bool) {
	for _, t := range r.Targets {
		if t.Target.Platform == platform && t.Target.GroupID == groupID {
			return t, true
		}
	}
	return TargetResult{}, false
}
