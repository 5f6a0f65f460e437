// Package model holds the shared data shapes for generated knowledge graphs.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Concepts maps a concept name to its description. Identifiers are unique
// within a graph; storage order is not significant.
type Concepts map[string]string

// Relation is a directed, labeled edge between two concepts. On the wire it
// is a 3-element array [source, target, label], matching the LLM output.
type Relation struct {
	Source string
	Target string
	Label  string
}

// MarshalJSON implements json.Marshaler
func (r Relation) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{r.Source, r.Target, r.Label})
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Relation) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("relation must be an array of strings: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("relation must have exactly 3 elements, got %d", len(parts))
	}
	r.Source, r.Target, r.Label = parts[0], parts[1], parts[2]
	return nil
}

// Graph is one persisted generation result with its feedback counters.
// Score currently equals the like count; dislikes are tracked but do not
// lower the score.
type Graph struct {
	ID            int64      `json:"id"`
	Topic         string     `json:"topic"`
	ConceptCount  int        `json:"concept_count"`
	Concepts      Concepts   `json:"concepts"`
	Relationships []Relation `json:"relationships"`
	IsPerson      bool       `json:"is_person"`
	Likes         int        `json:"likes"`
	Dislikes      int        `json:"dislikes"`
	Score         float64    `json:"score"`
	CreatedAt     time.Time  `json:"created_at"`
}
