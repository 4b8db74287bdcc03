// Package tools exposes the record operations as MCP tools with dependency
// injection.
package tools

import (
	"github.com/vthunder/scribe/internal/audit"
	"github.com/vthunder/scribe/internal/index"
	"github.com/vthunder/scribe/internal/integrity"
	"github.com/vthunder/scribe/internal/merge"
	"github.com/vthunder/scribe/internal/quality"
	"github.com/vthunder/scribe/internal/store"
)

// Dependencies holds all services the tool handlers may need.
// Optional fields may be nil.
type Dependencies struct {
	// Core services (required)
	Store *store.Store
	Index *index.Index

	// Merge and audit machinery
	Coordinator *merge.Coordinator
	Scorer      *quality.Scorer
	Auditor     *integrity.Auditor

	// Optional services
	Trail *audit.Trail

	// MergeThreshold is used when a tool call doesn't supply one.
	MergeThreshold float64

	// Actor recorded in change histories for tool-driven mutations.
	Actor string
}

func (d *Dependencies) actor() string {
	if d.Actor == "" {
		return "mcp"
	}
	return d.Actor
}

func (d *Dependencies) threshold(arg float64) float64 {
	if arg > 0 {
		return arg
	}
	if d.MergeThreshold > 0 {
		return d.MergeThreshold
	}
	return merge.DefaultThreshold
}
