// Package generator drives the two-phase graph generation: streamed concept
// extraction followed by non-streaming relationship inference, both through
// the resilient LLM caller and JSON extractor.
package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"termsai/backend/internal/filter"
	"termsai/backend/internal/llm"
	"termsai/backend/internal/model"
	"termsai/backend/internal/parser"
	apperrors "termsai/backend/pkg/errors"
	"termsai/backend/pkg/logger"
)

// Generator orchestrates prompt selection and the generation phases
type Generator struct {
	caller *llm.Caller
	filter *filter.Filter
	logger *zap.Logger
}

// New creates a generator over the given caller and content filter
func New(caller *llm.Caller, contentFilter *filter.Filter) *Generator {
	return &Generator{
		caller: caller,
		filter: contentFilter,
		logger: logger.Get(),
	}
}

// ClassifyTopic asks the LLM whether the topic is a person or organization.
// The answer decides the prompt family for every later step on this topic
// and is persisted on the resulting graph.
func (g *Generator) ClassifyTopic(ctx context.Context, topic string) (PromptFamily, error) {
	text, err := g.caller.Call(ctx, llm.UserMessage(prejudgePrompt(topic)), "classifying topic "+topic)
	if err != nil {
		return FamilyGeneric, err
	}
	result, err := parser.Parse(text, "parsing topic classification for "+topic)
	if err != nil {
		return FamilyGeneric, err
	}
	return FamilyFor(result["result"] == "1"), nil
}

// StreamConcepts starts a streaming concept generation and returns its
// fragment sequence. Each fragment and the accumulated text are checked
// against the content filter; a match replaces the rest of the stream with
// the filter sentinel.
func (g *Generator) StreamConcepts(ctx context.Context, topic string, count int, family PromptFamily) (<-chan llm.Fragment, error) {
	prompt := family.conceptPrompt(topic, count)
	streamCtx, cancel := context.WithCancel(ctx)
	fragments, err := g.caller.CallStream(streamCtx, llm.UserMessage(prompt), fmt.Sprintf("generating concepts for %q", topic))
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		// cancelling releases the backend pump when the sequence is cut
		// short by a filter match
		defer cancel()
		var accumulated string
		for fragment := range fragments {
			if fragment.Err != nil {
				out <- fragment
				return
			}
			accumulated += fragment.Text
			if g.filter.Contains(fragment.Text) || g.filter.Contains(accumulated) {
				g.logger.Warn("content filter tripped mid-stream", zap.String("topic", topic))
				out <- llm.Fragment{Text: filter.Sentinel}
				return
			}
			out <- fragment
		}
	}()
	return out, nil
}

// GenerateConcepts is the non-streaming path: it consumes the fragment
// sequence internally and returns the parsed concept mapping. A denylist
// match here is an error rather than a sentinel.
func (g *Generator) GenerateConcepts(ctx context.Context, topic string, count int, family PromptFamily) (model.Concepts, error) {
	fragments, err := g.StreamConcepts(ctx, topic, count, family)
	if err != nil {
		return nil, err
	}

	var accumulated string
	for fragment := range fragments {
		if fragment.Err != nil {
			return nil, fragment.Err
		}
		if fragment.Text == filter.Sentinel {
			return nil, apperrors.NewContentFiltered()
		}
		accumulated += fragment.Text
	}

	return g.ParseConcepts(accumulated, topic)
}

// ParseConcepts parses accumulated concept output into a flat mapping
func (g *Generator) ParseConcepts(text, topic string) (model.Concepts, error) {
	parsed, err := parser.Parse(text, fmt.Sprintf("parsing concepts for %q", topic))
	if err != nil {
		return nil, err
	}
	concepts, err := parser.StringMap(parsed, fmt.Sprintf("parsing concepts for %q", topic))
	if err != nil {
		return nil, err
	}
	return model.Concepts(concepts), nil
}

// GenerateRelationships infers the directed edges over the full concept set.
// The LLM must answer with {"relations": [[source, target, label], ...]};
// any deviation names the offending index and value.
func (g *Generator) GenerateRelationships(ctx context.Context, concepts model.Concepts, family PromptFamily) ([]model.Relation, error) {
	conceptsJSON, err := json.Marshal(concepts)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize concepts: %w", err)
	}

	text, err := g.caller.Call(ctx, llm.UserMessage(family.relationshipPrompt(string(conceptsJSON))), "generating concept relationships")
	if err != nil {
		return nil, err
	}

	parsed, err := parser.Parse(text, "parsing concept relationships")
	if err != nil {
		return nil, err
	}

	rawRelations, ok := parsed["relations"]
	if !ok {
		return nil, fmt.Errorf("relationship response missing 'relations' field: %v", parsed)
	}
	items, ok := rawRelations.([]any)
	if !ok {
		return nil, fmt.Errorf("'relations' is not a list: %v", rawRelations)
	}

	relations := make([]model.Relation, 0, len(items))
	for i, item := range items {
		parts, ok := item.([]any)
		if !ok || len(parts) != 3 {
			return nil, apperrors.NewInvalidRelation(i, item)
		}
		source, ok1 := parts[0].(string)
		target, ok2 := parts[1].(string)
		label, ok3 := parts[2].(string)
		if !ok1 || !ok2 || !ok3 {
			return nil, apperrors.NewInvalidRelation(i, item)
		}
		relations = append(relations, model.Relation{Source: source, Target: target, Label: label})
	}
	return relations, nil
}

// GenerateConceptDetail turns free-text user input into a small concept
// mapping for the incremental merge flow
func (g *Generator) GenerateConceptDetail(ctx context.Context, input string, family PromptFamily) (model.Concepts, error) {
	text, err := g.caller.Call(ctx, llm.UserMessage(family.newConceptPrompt(input)), fmt.Sprintf("generating detail for new concept %q", input))
	if err != nil {
		return nil, err
	}
	parsed, err := parser.Parse(text, fmt.Sprintf("parsing detail for new concept %q", input))
	if err != nil {
		return nil, err
	}
	detail, err := parser.StringMap(parsed, fmt.Sprintf("parsing detail for new concept %q", input))
	if err != nil {
		return nil, err
	}
	return model.Concepts(detail), nil
}
