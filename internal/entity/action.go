package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ActionType string

const (
	ActionTypeClick    ActionType = "click"
	ActionTypeType     ActionType = "type"
	ActionTypeSelect   ActionType = "select"
	ActionTypeWait     ActionType = "wait"
	ActionTypeScroll   ActionType = "scroll"
	ActionTypeEnter    ActionType = "enter"
	ActionTypeNavigate ActionType = "navigate"
	ActionTypeExtract  ActionType = "extract"
	ActionTypeFinish   ActionType = "finish"
)

const (
	ScrollUp   = "up"
	ScrollDown = "down"

	DefaultScrollAmount = 300
	DefaultWaitTimeout  = 2000
	DefaultVariable     = "result"
)

var ErrNoTarget = errors.New("no identifiable target")

// Action is the canonical planner instruction. Type selects which of the
// remaining fields are meaningful.
type Action struct {
	Type      ActionType `json:"type"`
	Ref       string     `json:"ref,omitempty"`
	Text      string     `json:"text,omitempty"`
	Selector  string     `json:"selector,omitempty"`
	Value     string     `json:"value,omitempty"`
	Timeout   int        `json:"timeout,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Amount    int        `json:"amount,omitempty"`
	URL       string     `json:"url,omitempty"`
	Variable  string     `json:"variable,omitempty"`
	Summary   string     `json:"summary,omitempty"`
}

// Known reports whether t is one of the supported action kinds.
func (t ActionType) Known() bool {
	switch t {
	case ActionTypeClick, ActionTypeType, ActionTypeSelect, ActionTypeWait, ActionTypeScroll,
		ActionTypeEnter, ActionTypeNavigate, ActionTypeExtract, ActionTypeFinish:
		return true
	}

	return false
}

// ChangesContent reports whether executing the action may mutate the page, in
// which case the caller must re-sample before trusting refs again.
func (t ActionType) ChangesContent() bool {
	switch t {
	case ActionTypeClick, ActionTypeType, ActionTypeSelect, ActionTypeScroll, ActionTypeNavigate, ActionTypeEnter:
		return true
	}

	return false
}

// Validate rejects actions that cannot be executed as given. It never touches
// the browser.
func (a *Action) Validate() error {
	if a == nil {
		return errors.New("action is nil")
	}

	if a.Type == "" {
		return errors.New("action type is missing")
	}

	if !a.Type.Known() {
		return fmt.Errorf("unknown action type %q", a.Type)
	}

	switch a.Type {
	case ActionTypeClick:
		if a.Ref == "" && a.Text == "" && a.Selector == "" {
			return fmt.Errorf("click: %w (need ref, text or selector)", ErrNoTarget)
		}
	case ActionTypeType:
		if a.Ref == "" && a.Selector == "" {
			return fmt.Errorf("type: %w (need ref or selector)", ErrNoTarget)
		}
	case ActionTypeSelect:
		if a.Ref == "" && a.Selector == "" {
			return fmt.Errorf("select: %w (need ref or selector)", ErrNoTarget)
		}
	case ActionTypeExtract:
		if a.Ref == "" && a.Selector == "" {
			return fmt.Errorf("extract: %w (need ref or selector)", ErrNoTarget)
		}
	case ActionTypeWait:
		if a.Timeout > 0 && a.Selector != "" {
			return errors.New("wait: timeout and selector are mutually exclusive")
		}

		if a.Timeout <= 0 && a.Selector == "" {
			return errors.New("wait: requires timeout or selector")
		}
	case ActionTypeScroll:
		switch strings.ToLower(a.Direction) {
		case "", ScrollUp, ScrollDown:
		default:
			return fmt.Errorf("scroll: unsupported direction %q", a.Direction)
		}

		if a.Amount < 0 {
			return fmt.Errorf("scroll: negative amount %d", a.Amount)
		}
	case ActionTypeNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return errors.New("navigate: url is required")
		}
	}

	return nil
}

// ScrollDirection returns the normalized direction, defaulting to down.
func (a *Action) ScrollDirection() string {
	if strings.EqualFold(a.Direction, ScrollUp) {
		return ScrollUp
	}

	return ScrollDown
}

// ScrollAmount returns the pixel amount, defaulting to DefaultScrollAmount.
func (a *Action) ScrollAmount() int {
	if a.Amount > 0 {
		return a.Amount
	}

	return DefaultScrollAmount
}

// Describe renders a short human-readable form used in logs and the console.
func (a *Action) Describe() string {
	if a == nil {
		return "<nil>"
	}

	switch a.Type {
	case ActionTypeClick:
		return fmt.Sprintf("click %s", a.target())
	case ActionTypeType:
		return fmt.Sprintf("type %q into %s", a.Text, a.target())
	case ActionTypeSelect:
		return fmt.Sprintf("select %q in %s", a.Value, a.target())
	case ActionTypeExtract:
		return fmt.Sprintf("extract %s", a.target())
	case ActionTypeWait:
		if a.Selector != "" {
			return fmt.Sprintf("wait for %s", a.Selector)
		}

		return fmt.Sprintf("wait %dms", a.Timeout)
	case ActionTypeScroll:
		return fmt.Sprintf("scroll %s %dpx", a.ScrollDirection(), a.ScrollAmount())
	case ActionTypeEnter:
		if a.Ref == "" && a.Selector == "" {
			return "press Enter"
		}

		return fmt.Sprintf("press Enter on %s", a.target())
	case ActionTypeNavigate:
		return fmt.Sprintf("navigate %s", a.URL)
	case ActionTypeFinish:
		return fmt.Sprintf("finish: %s", a.Summary)
	}

	return string(a.Type)
}

func (a *Action) target() string {
	parts := make([]string, 0, 3)

	if a.Ref != "" {
		parts = append(parts, "ref="+a.Ref)
	}

	if a.Selector != "" {
		parts = append(parts, "selector="+a.Selector)
	}

	if a.Text != "" && a.Type == ActionTypeClick {
		parts = append(parts, fmt.Sprintf("text=%q", a.Text))
	}

	if len(parts) == 0 {
		return "<no target>"
	}

	return strings.Join(parts, " ")
}

// JSON renders the action in its canonical wire shape.
func (a *Action) JSON() string {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf(`{"type":%q}`, a.Type)
	}

	return string(data)
}
