package entity

import (
	"time"

	"github.com/google/uuid"
)

// Element is one ref-addressable node of a snapshot.
type Element struct {
	Ref  string
	Role string
	Name string

	// Label is Name before truncation.
	Label      string
	Tag        string
	Attributes map[string]string
	InViewport bool
	Y          float64
}

// Outcome is the result of executing one action. Success is set once at the
// point of failure and is never inferred from Text.
type Outcome struct {
	Text    string
	Success bool
	Code    string
	// Value carries extracted text for extract actions.
	Value string
}

func Succeeded(text string) Outcome {
	return Outcome{Text: text, Success: true}
}

func Failed(code, text string) Outcome {
	return Outcome{Text: text, Code: code}
}

type HistoryEntry struct {
	Action  Action `json:"action"`
	Outcome string `json:"result"`
	Success bool   `json:"success"`
}

type CaptureMode string

const (
	CaptureFull      CaptureMode = "full"
	CaptureDiff      CaptureMode = "diff"
	CaptureUnchanged CaptureMode = "unchanged"
	CaptureFallback  CaptureMode = "fallback"
	CaptureFailed    CaptureMode = "failed"
)

type CaptureOptions struct {
	ForceRefresh bool
	DiffOnly     bool
	IncludeAll   bool
}

// Capture is what the snapshot engine hands back: the text to forward plus
// how it was produced.
type Capture struct {
	Text     string
	Mode     CaptureMode
	Elements int
}

func (c Capture) Failed() bool {
	return c.Mode == CaptureFailed
}

type LoopState string

const (
	StatePlanning  LoopState = "planning"
	StateActing    LoopState = "acting"
	StateObserving LoopState = "observing"
	StateFinished  LoopState = "finished"
	StateAborted   LoopState = "aborted"
)

func (s LoopState) Terminal() bool {
	return s == StateFinished || s == StateAborted
}

const (
	AbortStepBudget     = "step_budget_exhausted"
	AbortSnapshotFailed = "snapshot_failed_twice"
	AbortNoAction       = "no_action"
	AbortPlannerError   = "planner_error"
	AbortCancelled      = "cancelled"
)

// Command is one top-level goal and everything that happened while pursuing it.
type Command struct {
	ID          uuid.UUID
	Goal        string
	State       LoopState
	Plan        []string
	History     []HistoryEntry
	Variables   map[string]string
	Steps       int
	Summary     string
	AbortReason string
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
