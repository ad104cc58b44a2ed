package snapshot

import (
	"browser-agent/internal/entity"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	Header          = "- Page Snapshot"
	DiffHeader      = "- Page Snapshot (diff)"
	UnchangedMarker = "- Page Snapshot (no structural changes)"
	ErrorText       = "Error: Could not capture page snapshot"

	fallbackLimit = 500
)

// attribute keys in the order they are rendered
var attributeOrder = []string{"type", "placeholder", "aria-label", "href", "id", "name"}

type page struct {
	Title    string
	URL      string
	Elements []entity.Element
}

func fence(lang string, lines []string) string {
	var b strings.Builder

	b.WriteString(Header)
	b.WriteString("\n```")
	b.WriteString(lang)
	b.WriteString("\n")

	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("```")

	return b.String()
}

func documentLine(title, url string) string {
	return fmt.Sprintf("- document %s [url=%s]", strconv.Quote(title), url)
}

// formatPage renders the yaml-ish block handed to the planner.
func formatPage(p page) string {
	lines := make([]string, 0, len(p.Elements)+1)
	lines = append(lines, documentLine(p.Title, p.URL))

	for _, el := range p.Elements {
		lines = append(lines, formatElement(el))
	}

	return fence("yaml", lines)
}

func formatElement(el entity.Element) string {
	var b strings.Builder

	b.WriteString("- ")
	b.WriteString(el.Role)

	if el.Name != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(el.Name))
	}

	attrs := make([]string, 0, len(attributeOrder))
	for _, key := range attributeOrder {
		v := el.Attributes[key]
		if v == "" {
			continue
		}

		// aria-label already became the name
		if key == "aria-label" && v == el.Name {
			continue
		}

		attrs = append(attrs, key+"="+strconv.Quote(v))
	}

	if len(attrs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteString("]")
	}

	b.WriteString(" [ref=")
	b.WriteString(el.Ref)
	b.WriteString("]")

	return b.String()
}

func formatFallback(title, url, body string) string {
	body = strings.Join(strings.Fields(body), " ")
	body = truncate(body, fallbackLimit)

	if body == "" {
		body = "(no content)"
	}

	return fence("yaml", []string{
		documentLine(title, url),
		"- generic [ref=e1]: " + body,
	})
}

// diff returns the unified diff between two formatted snapshots, or the
// unchanged marker when they are identical.
func diff(prev, curr string) (string, bool, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev),
		B:        difflib.SplitLines(curr),
		FromFile: "prev",
		ToFile:   "curr",
		Context:  3,
	})
	if err != nil {
		return "", false, err
	}

	if text == "" {
		return UnchangedMarker, false, nil
	}

	return DiffHeader + "\n```diff\n" + strings.TrimRight(text, "\n") + "\n```", true, nil
}

// nameFromLine recovers the quoted name from an element line carrying ref.
func nameFromLine(snapshot, ref string) (string, bool) {
	marker := "[ref=" + ref + "]"

	for _, line := range strings.Split(snapshot, "\n") {
		if !strings.HasSuffix(line, marker) {
			continue
		}

		rest := strings.TrimPrefix(strings.TrimSpace(line), "- ")

		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return "", false
		}

		quoted, err := strconv.QuotedPrefix(rest[i+1:])
		if err != nil {
			return "", false
		}

		name, err := strconv.Unquote(quoted)
		if err != nil || name == "" {
			return "", false
		}

		return name, true
	}

	return "", false
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
