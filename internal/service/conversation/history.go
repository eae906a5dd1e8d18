package conversation

import (
	"slices"

	"thinkchat/internal/models"
)

// History is the turn log of one conversation. The first turn is always the
// assistant greeting. Completed turns are never changed or removed.
type History struct {
	turns []models.Turn
}

func newHistory(greeting models.Turn) *History {
	return &History{turns: []models.Turn{greeting}}
}

func (h *History) append(turn models.Turn) {
	h.turns = append(h.turns, turn)
}

// truncate drops turns from index n on. Only the in-flight user turn of a
// refused submission is ever dropped; the greeting is kept.
func (h *History) truncate(n int) {
	if n < 1 || n > len(h.turns) {
		return
	}
	h.turns = h.turns[:n]
}

// Len returns the number of turns, greeting included.
func (h *History) Len() int {
	return len(h.turns)
}

// Snapshot returns a copy that callers may keep or modify.
func (h *History) Snapshot() []models.Turn {
	return slices.Clone(h.turns)
}
