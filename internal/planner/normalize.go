package planner

import (
	"browser-agent/internal/entity"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// legacyKinds is the probe order for objects keyed by the action kind.
var legacyKinds = []entity.ActionType{
	entity.ActionTypeClick,
	entity.ActionTypeType,
	entity.ActionTypeSelect,
	entity.ActionTypeExtract,
	entity.ActionTypeScroll,
	entity.ActionTypeWait,
	entity.ActionTypeEnter,
	entity.ActionTypeNavigate,
	entity.ActionTypeFinish,
}

// Normalize maps a decoded planner action onto the canonical Action. Besides
// the flat {"type": ...} shape it accepts legacy objects keyed by the kind,
// e.g. {"click": "e7"} or {"select": {"ref": "e3", "value": "x"}}. A nil raw
// value means no action and yields (nil, nil).
func Normalize(raw any) (*entity.Action, error) {
	if raw == nil {
		return nil, nil
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("action must be an object, got %T", raw)
	}

	if t, ok := m["type"].(string); ok && t != "" {
		return fromFields(entity.ActionType(strings.ToLower(strings.TrimSpace(t))), m)
	}

	for _, kind := range legacyKinds {
		v, ok := m[string(kind)]
		if !ok {
			continue
		}

		return fromLegacy(kind, v)
	}

	return nil, fmt.Errorf("action has no recognizable type: %s", compact(m))
}

func fromLegacy(kind entity.ActionType, v any) (*entity.Action, error) {
	var a *entity.Action

	switch val := v.(type) {
	case map[string]any:
		var err error
		a, err = fromFields(kind, val)
		if err != nil {
			return nil, err
		}
	case string:
		a = &entity.Action{Type: kind}
		switch kind {
		case entity.ActionTypeNavigate:
			a.URL = val
		case entity.ActionTypeFinish:
			a.Summary = val
		case entity.ActionTypeScroll:
			a.Direction = val
		case entity.ActionTypeWait:
			if ms, err := strconv.Atoi(val); err == nil {
				a.Timeout = ms
			} else {
				a.Selector = val
			}
		default:
			a.Ref = cleanRef(val)
		}
	case nil, bool:
		a = &entity.Action{Type: kind}
	default:
		n, err := toInt(val)
		if err != nil {
			return nil, fmt.Errorf("legacy %s: %w", kind, err)
		}

		a = &entity.Action{Type: kind}
		switch kind {
		case entity.ActionTypeWait:
			a.Timeout = n
		case entity.ActionTypeScroll:
			a.Amount = n
		default:
			return nil, fmt.Errorf("legacy %s: unexpected value %v", kind, v)
		}
	}

	switch kind {
	case entity.ActionTypeWait:
		if a.Timeout <= 0 && a.Selector == "" {
			a.Timeout = entity.DefaultWaitTimeout
		}
	case entity.ActionTypeScroll:
		if a.Direction == "" {
			a.Direction = entity.ScrollDown
		}

		if a.Amount == 0 {
			a.Amount = entity.DefaultScrollAmount
		}
	case entity.ActionTypeExtract:
		if a.Variable == "" {
			a.Variable = entity.DefaultVariable
		}
	}

	return a, nil
}

func fromFields(kind entity.ActionType, m map[string]any) (*entity.Action, error) {
	a := &entity.Action{
		Type:      kind,
		Ref:       cleanRef(str(m["ref"])),
		Text:      str(m["text"]),
		Selector:  str(m["selector"]),
		Value:     str(m["value"]),
		Direction: strings.ToLower(str(m["direction"])),
		URL:       str(m["url"]),
		Variable:  str(m["variable"]),
		Summary:   str(m["summary"]),
	}

	var err error

	if a.Timeout, err = optionalInt(m, "timeout"); err != nil {
		return nil, err
	}

	if a.Amount, err = optionalInt(m, "amount"); err != nil {
		return nil, err
	}

	return a, nil
}

// cleanRef accepts "e7", "ref=e7" and "[ref=e7]".
func cleanRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "[")
	ref = strings.TrimSuffix(ref, "]")
	ref = strings.TrimPrefix(ref, "ref=")

	return ref
}

func str(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}

	return fmt.Sprint(v)
}

func optionalInt(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}

	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}

	return n, nil
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, err
		}

		return int(math.Round(f)), nil
	case float64:
		return int(math.Round(val)), nil
	case int:
		return val, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", val)
		}

		return int(math.Round(f)), nil
	}

	return 0, fmt.Errorf("not a number: %v", v)
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	if len(data) > 200 {
		return string(data[:200]) + "..."
	}

	return string(data)
}
