// Package annotate turns raw model output into display text, lifting the
// model's reasoning segment into a styled block.
package annotate

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	DefaultStart = "<think>"
	DefaultEnd   = "</think>"
)

const blockFormat = `<div class="reasoning" style="background-color: #1a1a1a; color: #ffffff; ` +
	`border-left: 4px solid #4a90e2; padding: 10px; margin-bottom: 10px; font-style: italic;">` +
	`<b>&#129300; AI Reasoning Process:</b><br>` + "%s" + `</div>`

// Result is the annotated form of one response.
type Result struct {
	// Reasoning holds the trimmed segment text. Several segments are joined
	// with a blank line.
	Reasoning string
	// Answer is the response with every reasoning span replaced by a newline,
	// then trimmed.
	Answer string
	// Display is the response with every reasoning span replaced by a
	// styled block.
	Display string
	Found   bool
}

// Annotator finds reasoning segments delimited by a start/end marker pair.
type Annotator struct {
	pattern *regexp.Regexp
}

// New builds an annotator for the given markers. Empty markers fall back to
// <think> and </think>.
func New(start, end string) *Annotator {
	if start == "" {
		start = DefaultStart
	}
	if end == "" {
		end = DefaultEnd
	}
	return &Annotator{
		pattern: regexp.MustCompile(`(?s)` + regexp.QuoteMeta(start) + `(.*?)` + regexp.QuoteMeta(end)),
	}
}

// Annotate scans raw left to right. Each non-overlapping marker pair is
// replaced by a block for its own content. Text without a complete pair is
// returned unchanged.
func (a *Annotator) Annotate(raw string) Result {
	matches := a.pattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return Result{Answer: raw, Display: raw}
	}

	var (
		display  strings.Builder
		answer   strings.Builder
		segments = make([]string, 0, len(matches))
		last     int
	)
	for _, m := range matches {
		inner := strings.TrimSpace(raw[m[2]:m[3]])
		segments = append(segments, inner)

		display.WriteString(raw[last:m[0]])
		display.WriteString(StyleReasoning(inner))
		answer.WriteString(raw[last:m[0]])
		answer.WriteString("\n")
		last = m[1]
	}
	display.WriteString(raw[last:])
	answer.WriteString(raw[last:])

	return Result{
		Reasoning: strings.Join(segments, "\n\n"),
		Answer:    strings.TrimSpace(answer.String()),
		Display:   display.String(),
		Found:     true,
	}
}

// StyleReasoning wraps already-trimmed reasoning text in the display block.
func StyleReasoning(reasoning string) string {
	return fmt.Sprintf(blockFormat, html.EscapeString(reasoning))
}
