package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"termsai/backend/internal/model"
)

// Status tags the phase a progress event belongs to
type Status string

const (
	StatusInitializing            Status = "initializing"
	StatusGeneratingConcepts      Status = "generating_concepts"
	StatusGeneratingConceptsPart  Status = "generating_concepts_partial"
	StatusGeneratingRelationships Status = "generating_relationships"
	StatusMergingConcepts         Status = "merging_concepts"
	StatusFinalizing              Status = "finalizing"
	StatusComplete                Status = "complete"
	StatusError                   Status = "error"
)

// Result is the payload of a terminal complete event
type Result struct {
	GraphID       int64            `json:"graph_id"`
	Concepts      model.Concepts   `json:"concepts"`
	Relationships []model.Relation `json:"relationships"`
}

// Event is one entry in a workflow's ordered progress sequence. Progress is
// monotonically non-decreasing within a workflow; exactly one terminal event
// (complete or error) ends the sequence. Error events carry no progress claim.
type Event struct {
	Status   Status  `json:"status"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message"`
	Data     *Result `json:"data,omitempty"`
}

func progressEvent(status Status, progress float64, message string) Event {
	return Event{Status: status, Progress: progress, Message: message}
}

func completeEvent(message string, result *Result) Event {
	return Event{Status: StatusComplete, Progress: 100, Message: message, Data: result}
}

func errorEvent(err error) Event {
	return Event{Status: StatusError, Message: err.Error()}
}

// keyPattern spots completed "key": openings in accumulated concept output
var keyPattern = regexp.MustCompile(`"([^"]+)"\s*:`)

// updateInterval is the minimum wall-clock gap between partial progress events
const updateInterval = 300 * time.Millisecond

// conceptTracker turns accumulated stream text into partial progress events.
// Found concept keys map onto the 30–70 progress band proportionally to the
// requested count, clamped at 70. Each emitted update appends a cycling one
// to three dot suffix to the message.
type conceptTracker struct {
	count      int
	found      []string
	seen       map[string]bool
	dotPhase   int
	lastUpdate time.Time
	now        func() time.Time
}

func newConceptTracker(count int) *conceptTracker {
	return &conceptTracker{
		count: count,
		seen:  make(map[string]bool),
		now:   time.Now,
	}
}

// update records the accumulated text and, at most once per updateInterval,
// returns a partial progress event
func (t *conceptTracker) update(accumulated string) (Event, bool) {
	current := t.now()
	if current.Sub(t.lastUpdate) < updateInterval {
		return Event{}, false
	}
	t.lastUpdate = current

	for _, match := range keyPattern.FindAllStringSubmatch(accumulated, -1) {
		key := match[1]
		if !t.seen[key] {
			t.seen[key] = true
			t.found = append(t.found, "✅"+key)
		}
	}

	progress := 30 + float64(len(t.found))/float64(t.count)*40
	if progress > 70 {
		progress = 70
	}

	dots := strings.Repeat(".", t.dotPhase%3+1)
	t.dotPhase++
	message := fmt.Sprintf("Generating concepts:\n%s%s", strings.Join(t.found, "\n"), dots)

	return progressEvent(StatusGeneratingConceptsPart, progress, message), true
}
