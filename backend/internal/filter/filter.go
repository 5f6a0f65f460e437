// Package filter rejects topics and generated output matching a denylist of
// phrases. The list is a plain newline-delimited file loaded once at startup;
// updating it requires a restart.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Sentinel is yielded in place of a text fragment when a streaming
// generation hits the denylist. Mid-stream consumers cannot receive an
// error without tearing the stream down, so the abort travels in-band.
const Sentinel = "[[CONTENT_FILTERED]]"

// Filter matches text against the loaded denylist
type Filter struct {
	phrases []string
}

// Load reads the denylist file, one lowercase phrase per line. Blank lines
// are skipped.
func Load(path string) (*Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter list %s: %w", path, err)
	}
	defer f.Close()

	var phrases []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line != "" {
			phrases = append(phrases, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read filter list %s: %w", path, err)
	}

	return &Filter{phrases: phrases}, nil
}

// New creates a filter from an in-memory phrase list (mainly for tests)
func New(phrases []string) *Filter {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Filter{phrases: lowered}
}

// Contains reports whether text matches any denylisted phrase,
// case-insensitively
func (f *Filter) Contains(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range f.phrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
