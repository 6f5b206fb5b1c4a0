// Package refine corrects raw speech-to-text output: spelling, misheard
// words and broken sentences, while keeping speaker order and timing.
package refine

import (
	"context"
	"fmt"
	"strings"

	"github.com/openminutes/openminutes/internal/meeting"
)

// Refiner is the capability interface over a text-correction provider.
// Same cardinality and ordering of segments is a soft target (adjacent
// fragments of one speaker's sentence may be merged), but chronological
// order must never invert and no speaker label may appear that was not in
// the input.
type Refiner interface {
	Refine(ctx context.Context, segments []meeting.Segment) ([]meeting.Segment, error)
}

// validate checks a provider's refined segments against the contract.
// Violations make the caller fall back to the raw input rather than fail
// the stage: a sloppy correction is worse than no correction, not fatal.
func validate(original, refined []meeting.Segment) error {
	known := make(map[string]struct{}, len(original))
	for _, s := range original {
		known[s.Speaker] = struct{}{}
	}

	prevStart := -1.0
	for i, s := range refined {
		if _, ok := known[s.Speaker]; !ok {
			return fmt.Errorf("refined segment %d introduces unknown speaker %q", i, s.Speaker)
		}
		if s.End < s.Start {
			return fmt.Errorf("refined segment %d has end %.2f before start %.2f", i, s.End, s.Start)
		}
		if s.Start < prevStart {
			return fmt.Errorf("refined segment %d inverts chronological order", i)
		}
		prevStart = s.Start
	}
	return nil
}

// JoinText renders segments as one space-joined text block, the form the
// summarizer consumes.
func JoinText(segments []meeting.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// stripCodeFence removes a surrounding markdown code fence from an LLM
// response, with or without a language tag.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
