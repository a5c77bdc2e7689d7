// Copyright 2024-2026 Aiku AI

// Package correspondence records which message on one platform is a copy of
// which message on another.
//
// Every forward is stored as two directed edges: the forward edge from the
// source message to its copy, and the mirror edge from the copy back to the
// source. Edges are keyed by (platform, message ID, target platform, target
// group ID), so a message copied to two groups on the same platform has two
// distinct edges.
package correspondence

import (
	"context"
	"errors"
)

// ErrInvalidEdge is returned when an edge is missing one of its identifiers.
var ErrInvalidEdge = errors.New("invalid correspondence edge")

// Edge is one directed correspondence.
type Edge struct {
	SourcePlatform  string `json:"source_platform"`
	SourceGroupID   string `json:"source_group_id"`
	SourceMessageID string `json:"source_message_id"`
	TargetPlatform  string `json:"target_platform"`
	TargetGroupID   string `json:"target_group_id"`
	TargetMessageID string `json:"target_message_id"`
}

// Mirror returns the reverse edge.
func (e Edge) Mirror() Edge {
	return Edge{
		SourcePlatform:  e.TargetPlatform,
		SourceGroupID:   e.TargetGroupID,
		SourceMessageID: e.TargetMessageID,
		TargetPlatform:  e.SourcePlatform,
		TargetGroupID:   e.SourceGroupID,
		TargetMessageID: e.SourceMessageID,
	}
}

// Validate reports whether all six identifiers are present.
func (e Edge) Validate() error {
	if e.SourcePlatform == "" || e.SourceGroupID == "" || e.SourceMessageID == "" ||
		e.TargetPlatform == "" || e.TargetGroupID == "" || e.TargetMessageID == "" {
		return ErrInvalidEdge
	}
	return nil
}

func (e Edge) sameKey(o Edge) bool {
	return e.SourcePlatform == o.SourcePlatform &&
		e.SourceMessageID == o.SourceMessageID &&
		e.TargetPlatform == o.TargetPlatform &&
		e.TargetGroupID == o.TargetGroupID
}

// Store is a bidirectional correspondence table.
type Store interface {
	// Record stores e and its mirror. Recording an edge whose key already
	// exists replaces it and drops the mirror of the replaced copy.
	Record(ctx context.Context, e Edge) error
	// Lookup returns the edge from (platform, messageID) to targetPlatform.
	// An empty expectedGroupID selects the first edge recorded for that
	// platform; otherwise the target group must match.
	Lookup(ctx context.Context, platform, messageID, targetPlatform, expectedGroupID string) (Edge, bool, error)
	// LookupAll returns every edge leaving (platform, messageID) in record order.
	LookupAll(ctx context.Context, platform, messageID string) ([]Edge, error)
	// Delete removes e and its mirror.
	Delete(ctx context.Context, e Edge) error
}
