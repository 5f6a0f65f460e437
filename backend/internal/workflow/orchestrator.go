// Package workflow runs the generation and merge workflows: one cooperative
// flow of control per request, yielding progress events over a channel.
// Concurrent requests for the same (topic, count) are not coordinated; the
// ranking store treats every saved result as one more candidate.
package workflow

import (
	"context"

	"go.uber.org/zap"
	"termsai/backend/internal/filter"
	"termsai/backend/internal/generator"
	"termsai/backend/internal/model"
	"termsai/backend/internal/store"
	apperrors "termsai/backend/pkg/errors"
	"termsai/backend/pkg/logger"
)

const (
	// MinConceptCount and MaxConceptCount bound every generation request
	MinConceptCount = 5
	MaxConceptCount = 20

	// viewExhaustionThreshold is the number of distinct graphs a user is
	// served from cache for one (topic, count) before a dislike always
	// triggers fresh generation. Fixed policy, not per-request.
	viewExhaustionThreshold = 3
)

// Orchestrator wires the generator, content filter and ranking store into
// the request-level workflows
type Orchestrator struct {
	store     *store.Store
	generator *generator.Generator
	filter    *filter.Filter
	logger    *zap.Logger
}

// NewOrchestrator creates a new workflow orchestrator
func NewOrchestrator(st *store.Store, gen *generator.Generator, contentFilter *filter.Filter) *Orchestrator {
	return &Orchestrator{
		store:     st,
		generator: gen,
		filter:    contentFilter,
		logger:    logger.Get(),
	}
}

// GenerateRequest describes one generation workflow
type GenerateRequest struct {
	Topic  string
	Count  int
	UserID string
	// SkipCache forces fresh generation even when a cached graph exists
	SkipCache bool
	// RecordView marks the produced graph as seen by UserID, so later
	// dislikes will not re-serve it
	RecordView bool
}

// Generate runs the full generation workflow and returns its event sequence.
// The channel is closed after exactly one terminal event.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		o.generate(ctx, req, events)
	}()
	return events
}

func (o *Orchestrator) generate(ctx context.Context, req GenerateRequest, events chan<- Event) {
	if req.Count < MinConceptCount || req.Count > MaxConceptCount {
		events <- errorEvent(apperrors.NewInvalidConceptCount(req.Count))
		return
	}
	if o.filter.Contains(req.Topic) {
		events <- errorEvent(apperrors.NewContentFiltered())
		return
	}

	if !req.SkipCache {
		cached, _, err := o.store.BestGraph(ctx, req.Topic, req.Count, nil)
		if err != nil {
			events <- errorEvent(err)
			return
		}
		if cached != nil {
			events <- completeEvent("Fetched cached knowledge graph", &Result{
				GraphID:       cached.ID,
				Concepts:      cached.Concepts,
				Relationships: cached.Relationships,
			})
			return
		}
	}

	events <- progressEvent(StatusGeneratingConcepts, 20, "Initializing...\nThis may take a few minutes")

	family, err := o.generator.ClassifyTopic(ctx, req.Topic)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	fragments, err := o.generator.StreamConcepts(ctx, req.Topic, req.Count, family)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	tracker := newConceptTracker(req.Count)
	var accumulated string
	for fragment := range fragments {
		if fragment.Err != nil {
			events <- errorEvent(fragment.Err)
			return
		}
		if fragment.Text == filter.Sentinel {
			events <- errorEvent(apperrors.NewContentFiltered())
			return
		}
		accumulated += fragment.Text
		if event, ok := tracker.update(accumulated); ok {
			events <- event
		}
	}

	concepts, err := o.generator.ParseConcepts(accumulated, req.Topic)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	events <- progressEvent(StatusGeneratingRelationships, 70, "Analyzing concept relationships...\nLarge graphs may take a few minutes")

	relationships, err := o.generator.GenerateRelationships(ctx, concepts, family)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	graphID, err := o.store.Save(ctx, req.Topic, req.Count, concepts, relationships, family.IsPerson())
	if err != nil {
		events <- errorEvent(err)
		return
	}

	if req.RecordView && req.UserID != "" {
		if err := o.store.RecordView(ctx, req.UserID, graphID); err != nil {
			o.logger.Warn("failed to record view", zap.Int64("graph_id", graphID), zap.Error(err))
		}
	}

	events <- completeEvent("Generation complete!", &Result{
		GraphID:       graphID,
		Concepts:      concepts,
		Relationships: relationships,
	})
}

// Feedback applies a like/dislike to a graph and returns its updated state
func (o *Orchestrator) Feedback(ctx context.Context, graphID int64, liked bool) (*model.Graph, error) {
	return o.store.ApplyFeedback(ctx, graphID, liked)
}

// NextCached implements the dislike selection policy: while the user has
// viewed fewer than three distinct graphs for this (topic, count), the next
// best unseen cached graph is served instead of regenerating. Past the
// threshold, or with no unseen graphs left, the caller falls back to fresh
// generation or merge.
func (o *Orchestrator) NextCached(ctx context.Context, topic string, count int, userID string) (*model.Graph, bool, error) {
	viewed, err := o.store.ViewedCount(ctx, topic, count, userID)
	if err != nil {
		return nil, false, err
	}
	if viewed >= viewExhaustionThreshold {
		return nil, false, nil
	}

	graphs, err := o.store.TopNUnseen(ctx, topic, count, userID, viewExhaustionThreshold)
	if err != nil {
		return nil, false, err
	}
	if len(graphs) == 0 {
		return nil, false, nil
	}
	return graphs[0], true, nil
}

// RecordView marks a graph as seen by a user
func (o *Orchestrator) RecordView(ctx context.Context, userID string, graphID int64) error {
	return o.store.RecordView(ctx, userID, graphID)
}

// AddConcept runs the incremental merge workflow: generate a detail for the
// user-supplied concept, union it into a copy of the base graph's concepts
// (new keys win), regenerate all relationships, and persist the result as a
// brand-new graph. The base graph is never mutated; the acting user is
// recorded as having viewed the new graph immediately.
func (o *Orchestrator) AddConcept(ctx context.Context, graphID int64, newConceptInput, userID string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		o.addConcept(ctx, graphID, newConceptInput, userID, events)
	}()
	return events
}

func (o *Orchestrator) addConcept(ctx context.Context, graphID int64, newConceptInput, userID string, events chan<- Event) {
	events <- progressEvent(StatusInitializing, 10, "Initializing...\nThis may take a few minutes")

	base, err := o.store.GetByID(ctx, graphID)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	// Prompt family was decided at classification time and rides on the graph
	family := generator.FamilyFor(base.IsPerson)

	events <- progressEvent(StatusMergingConcepts, 30, "Generating description for the new concept")

	detail, err := o.generator.GenerateConceptDetail(ctx, newConceptInput, family)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	merged := make(model.Concepts, len(base.Concepts)+len(detail))
	for k, v := range base.Concepts {
		merged[k] = v
	}
	for k, v := range detail {
		merged[k] = v
	}

	events <- progressEvent(StatusMergingConcepts, 50, "Merging concepts")
	events <- progressEvent(StatusGeneratingRelationships, 70, "Analyzing concept relationships...\nLarge graphs may take a few minutes")

	// Relationship inference has no partial-update mode: regenerate over the
	// entire merged set
	relationships, err := o.generator.GenerateRelationships(ctx, merged, family)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	events <- progressEvent(StatusFinalizing, 90, "Saving updated graph")

	newGraphID, err := o.store.Save(ctx, base.Topic, len(merged), merged, relationships, base.IsPerson)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	if userID != "" {
		if err := o.store.RecordView(ctx, userID, newGraphID); err != nil {
			o.logger.Warn("failed to record view", zap.Int64("graph_id", newGraphID), zap.Error(err))
		}
	}

	events <- completeEvent("Concept added, graph updated", &Result{
		GraphID:       newGraphID,
		Concepts:      merged,
		Relationships: relationships,
	})
}
