package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// \x60 is a backtick; raw strings cannot hold one.
var fencedObject = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

var errNoObject = errors.New("no JSON object in response")

// ExtractJSON decodes the JSON object in an LLM reply, tolerating markdown
// fences and surrounding prose. Numbers decode as json.Number.
func ExtractJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	candidate := text

	if m := fencedObject.FindStringSubmatch(text); len(m) > 1 {
		candidate = m[1]
	} else if !strings.HasPrefix(text, "{") {
		first := strings.Index(text, "{")
		last := strings.LastIndex(text, "}")
		if first == -1 || last <= first {
			return nil, errNoObject
		}

		candidate = text[first : last+1]
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}

	return out, nil
}
