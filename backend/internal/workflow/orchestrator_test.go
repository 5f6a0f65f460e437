package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"termsai/backend/internal/filter"
	"termsai/backend/internal/generator"
	"termsai/backend/internal/llm"
	"termsai/backend/internal/model"
	"termsai/backend/internal/store"
	apperrors "termsai/backend/pkg/errors"
)

// scriptBackend feeds scripted completions and stream fragments through the
// real caller, recording how many calls the workflow actually made
type scriptBackend struct {
	completions []string
	fragments   []string
	completeN   int
	streamN     int
}

func (b *scriptBackend) Complete(_ context.Context, _ string, _ []llm.Message, _ bool) (string, error) {
	text := b.completions[b.completeN]
	b.completeN++
	return text, nil
}

func (b *scriptBackend) Stream(_ context.Context, _ string, _ []llm.Message) (<-chan llm.Fragment, error) {
	b.streamN++
	out := make(chan llm.Fragment, len(b.fragments))
	for _, f := range b.fragments {
		out <- llm.Fragment{Text: f}
	}
	close(out)
	return out, nil
}

func newTestOrchestrator(t *testing.T, backend llm.Backend, phrases []string) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	contentFilter := filter.New(phrases)
	caller := llm.NewCaller(backend, llm.NewSelector("gpt-4o", nil))
	gen := generator.New(caller, contentFilter)
	return NewOrchestrator(st, gen, contentFilter), st
}

func collect(events <-chan Event) []Event {
	var got []Event
	for e := range events {
		got = append(got, e)
	}
	return got
}

// terminalCount counts complete and error events; every sequence must end
// with exactly one
func terminalCount(events []Event) int {
	n := 0
	for _, e := range events {
		if e.Status == StatusComplete || e.Status == StatusError {
			n++
		}
	}
	return n
}

func assertMonotonicProgress(t *testing.T, events []Event) {
	t.Helper()
	last := 0.0
	for _, e := range events {
		if e.Status == StatusError {
			continue
		}
		assert.GreaterOrEqual(t, e.Progress, last, "progress regressed at %+v", e)
		last = e.Progress
	}
}

func TestGenerate_FullSequence(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{
			`{"result": "0"}`,
			`{"relations": [["Gravity", "Mass", "acts on"]]}`,
		},
		fragments: []string{`{"Gravity": "A force", `, `"Mass": "Amount of matter"}`},
	}
	orch, st := newTestOrchestrator(t, backend, nil)

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "physics", Count: 5, UserID: "user-1",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, StatusGeneratingConcepts, events[0].Status)
	assert.Equal(t, 1, terminalCount(events))
	assertMonotonicProgress(t, events)

	final := events[len(events)-1]
	require.Equal(t, StatusComplete, final.Status)
	assert.Equal(t, float64(100), final.Progress)
	require.NotNil(t, final.Data)
	assert.Equal(t, "A force", final.Data.Concepts["Gravity"])
	require.Len(t, final.Data.Relationships, 1)

	// the result was persisted
	saved, err := st.GetByID(context.Background(), final.Data.GraphID)
	require.NoError(t, err)
	assert.Equal(t, "physics", saved.Topic)
	assert.False(t, saved.IsPerson)

	// no view recorded unless the request asks for one
	viewed, err := st.ViewedCount(context.Background(), "physics", 5, "user-1")
	require.NoError(t, err)
	assert.Zero(t, viewed)
}

func TestGenerate_RecordsViewWhenAsked(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{`{"result": "0"}`, `{"relations": []}`},
		fragments:   []string{`{"Gravity": "A force"}`},
	}
	orch, st := newTestOrchestrator(t, backend, nil)

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "physics", Count: 5, UserID: "user-1", SkipCache: true, RecordView: true,
	}))
	require.Equal(t, StatusComplete, events[len(events)-1].Status)

	viewed, err := st.ViewedCount(context.Background(), "physics", 5, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, viewed)
}

func TestGenerate_PersonClassificationPersists(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{`{"result": "1"}`, `{"relations": []}`},
		fragments:   []string{`{"Radium": "Discovered element"}`},
	}
	orch, st := newTestOrchestrator(t, backend, nil)

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "Marie Curie", Count: 5,
	}))
	final := events[len(events)-1]
	require.Equal(t, StatusComplete, final.Status)

	saved, err := st.GetByID(context.Background(), final.Data.GraphID)
	require.NoError(t, err)
	assert.True(t, saved.IsPerson)
}

func TestGenerate_RejectsCountOutOfBounds(t *testing.T) {
	for _, count := range []int{MinConceptCount - 1, MaxConceptCount + 1} {
		backend := &scriptBackend{}
		orch, _ := newTestOrchestrator(t, backend, nil)

		events := collect(orch.Generate(context.Background(), GenerateRequest{
			Topic: "physics", Count: count,
		}))

		require.Len(t, events, 1)
		assert.Equal(t, StatusError, events[0].Status)
		assert.Zero(t, events[0].Progress)
		// rejected before any model call
		assert.Zero(t, backend.completeN)
		assert.Zero(t, backend.streamN)
	}
}

func TestGenerate_FilteredTopic(t *testing.T) {
	backend := &scriptBackend{}
	orch, _ := newTestOrchestrator(t, backend, []string{"forbidden"})

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "something forbidden", Count: 10,
	}))

	require.Len(t, events, 1)
	assert.Equal(t, StatusError, events[0].Status)
	assert.Equal(t, apperrors.FilteredMessage, events[0].Message)
	assert.Zero(t, backend.completeN)
}

func TestGenerate_FilteredStream(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{`{"result": "0"}`},
		fragments:   []string{`{"Fine": "ok", `, `"forbidden": "nope"}`},
	}
	orch, _ := newTestOrchestrator(t, backend, []string{"forbidden"})

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "physics", Count: 5,
	}))

	final := events[len(events)-1]
	assert.Equal(t, StatusError, final.Status)
	assert.Equal(t, apperrors.FilteredMessage, final.Message)
	assert.Equal(t, 1, terminalCount(events))
}

func TestGenerate_CacheHit(t *testing.T) {
	backend := &scriptBackend{}
	orch, st := newTestOrchestrator(t, backend, nil)

	cachedID, err := st.Save(context.Background(), "physics", 10,
		model.Concepts{"Gravity": "A force"}, nil, false)
	require.NoError(t, err)

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "Physics", Count: 10,
	}))

	require.Len(t, events, 1)
	final := events[0]
	assert.Equal(t, StatusComplete, final.Status)
	require.NotNil(t, final.Data)
	assert.Equal(t, cachedID, final.Data.GraphID)
	assert.Zero(t, backend.completeN)
	assert.Zero(t, backend.streamN)
}

func TestGenerate_SkipCacheForcesFreshGraph(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{`{"result": "0"}`, `{"relations": []}`},
		fragments:   []string{`{"Gravity": "A force"}`},
	}
	orch, st := newTestOrchestrator(t, backend, nil)

	cachedID, err := st.Save(context.Background(), "physics", 5,
		model.Concepts{"Old": "stale"}, nil, false)
	require.NoError(t, err)

	events := collect(orch.Generate(context.Background(), GenerateRequest{
		Topic: "physics", Count: 5, SkipCache: true,
	}))

	final := events[len(events)-1]
	require.Equal(t, StatusComplete, final.Status)
	assert.NotEqual(t, cachedID, final.Data.GraphID)
	assert.Equal(t, 1, backend.streamN)
}

func TestNextCached_ServesBestUnseen(t *testing.T) {
	orch, st := newTestOrchestrator(t, &scriptBackend{}, nil)
	ctx := context.Background()

	id1, err := st.Save(ctx, "physics", 10, model.Concepts{"A": "a"}, nil, false)
	require.NoError(t, err)
	id2, err := st.Save(ctx, "physics", 10, model.Concepts{"B": "b"}, nil, false)
	require.NoError(t, err)
	_, err = st.ApplyFeedback(ctx, id2, true)
	require.NoError(t, err)

	g, ok, err := orch.NextCached(ctx, "physics", 10, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id2, g.ID)

	require.NoError(t, orch.RecordView(ctx, "user-1", id2))
	g, ok, err = orch.NextCached(ctx, "physics", 10, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id1, g.ID)
}

func TestNextCached_ViewExhaustion(t *testing.T) {
	orch, st := newTestOrchestrator(t, &scriptBackend{}, nil)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := st.Save(ctx, "physics", 10, model.Concepts{"A": "a"}, nil, false)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids[:3] {
		require.NoError(t, orch.RecordView(ctx, "user-1", id))
	}

	// three distinct views exhausts the cache for this user even though an
	// unseen graph remains
	_, ok, err := orch.NextCached(ctx, "physics", 10, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// a fresh user is unaffected
	g, ok, err := orch.NextCached(ctx, "physics", 10, "user-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, g)
}

func TestNextCached_NoUnseenLeft(t *testing.T) {
	orch, st := newTestOrchestrator(t, &scriptBackend{}, nil)
	ctx := context.Background()

	id, err := st.Save(ctx, "physics", 10, model.Concepts{"A": "a"}, nil, false)
	require.NoError(t, err)
	require.NoError(t, orch.RecordView(ctx, "user-1", id))

	_, ok, err := orch.NextCached(ctx, "physics", 10, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddConcept_MergesWithoutMutatingBase(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{
			`{"Entropy": "Measure of disorder"}`,
			`{"relations": [["Gravity", "Entropy", "competes with"]]}`,
		},
	}
	orch, st := newTestOrchestrator(t, backend, nil)
	ctx := context.Background()

	baseID, err := st.Save(ctx, "physics", 2,
		model.Concepts{"Gravity": "A force", "Mass": "Amount of matter"},
		[]model.Relation{{Source: "Gravity", Target: "Mass", Label: "acts on"}},
		false)
	require.NoError(t, err)

	events := collect(orch.AddConcept(ctx, baseID, "entropy", "user-1"))

	assert.Equal(t, 1, terminalCount(events))
	assertMonotonicProgress(t, events)
	assert.Equal(t, StatusInitializing, events[0].Status)

	final := events[len(events)-1]
	require.Equal(t, StatusComplete, final.Status)
	require.NotNil(t, final.Data)
	assert.NotEqual(t, baseID, final.Data.GraphID)
	assert.Len(t, final.Data.Concepts, 3)
	assert.Equal(t, "Measure of disorder", final.Data.Concepts["Entropy"])

	// base graph row is untouched
	base, err := st.GetByID(ctx, baseID)
	require.NoError(t, err)
	assert.Len(t, base.Concepts, 2)
	assert.Len(t, base.Relationships, 1)

	// merged graph reflects the union and the regenerated relationships
	merged, err := st.GetByID(ctx, final.Data.GraphID)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.ConceptCount)
	require.Len(t, merged.Relationships, 1)
	assert.Equal(t, "Entropy", merged.Relationships[0].Target)
}

func TestAddConcept_NewDetailWinsOnKeyCollision(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{
			`{"Gravity": "Updated description"}`,
			`{"relations": []}`,
		},
	}
	orch, st := newTestOrchestrator(t, backend, nil)
	ctx := context.Background()

	baseID, err := st.Save(ctx, "physics", 1,
		model.Concepts{"Gravity": "A force"}, nil, false)
	require.NoError(t, err)

	events := collect(orch.AddConcept(ctx, baseID, "gravity", ""))
	final := events[len(events)-1]
	require.Equal(t, StatusComplete, final.Status)
	assert.Equal(t, "Updated description", final.Data.Concepts["Gravity"])
	assert.Len(t, final.Data.Concepts, 1)
}

func TestAddConcept_RecordsActorView(t *testing.T) {
	backend := &scriptBackend{
		completions: []string{`{"Entropy": "Disorder"}`, `{"relations": []}`},
	}
	orch, st := newTestOrchestrator(t, backend, nil)
	ctx := context.Background()

	baseID, err := st.Save(ctx, "physics", 1, model.Concepts{"A": "a"}, nil, false)
	require.NoError(t, err)

	events := collect(orch.AddConcept(ctx, baseID, "entropy", "user-1"))
	final := events[len(events)-1]
	require.Equal(t, StatusComplete, final.Status)

	viewed, err := st.ViewedCount(ctx, "physics", 2, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, viewed)
}

func TestAddConcept_MissingBase(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptBackend{}, nil)

	events := collect(orch.AddConcept(context.Background(), 999, "entropy", "user-1"))
	final := events[len(events)-1]
	assert.Equal(t, StatusError, final.Status)
	assert.Equal(t, 1, terminalCount(events))
}
