package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/gradscout/framework"
)

func sampleRun(t *testing.T, id string, started time.Time) *framework.PipelineRun {
	t.Helper()
	profile, err := framework.ValidateProfile("I'm Asha, B.Tech 2024, CGPA 8.7, want to study in Canada", framework.Credentials{}, framework.CredentialRequirements{})
	require.NoError(t, err)
	pc := framework.NewPipelineContext()
	require.NoError(t, pc.Append("normalizer", "normalized profile"))
	require.NoError(t, pc.Append("matcher", "program list"))
	return &framework.PipelineRun{
		ID:      id,
		Status:  framework.RunSucceeded,
		Profile: profile.WithDocument("strong letter"),
		Results: []framework.StageResult{
			{Stage: "normalizer", Title: "Profile", Status: framework.StageSucceeded, Output: "normalized profile", Attempts: 1},
			{Stage: "matcher", Title: "Programs", Status: framework.StageSucceeded, Output: "program list", Attempts: 2},
			{Stage: "ranker", Title: "Ranking", Status: framework.StageFailed, Attempts: 3,
				Error: &framework.StageError{Stage: "ranker", Attempts: 3, Kind: framework.KindTimeout, Message: "deadline"}},
		},
		Context:    pc,
		Required:   []string{"normalizer"},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func storesUnderTest(t *testing.T) map[string]SessionStore {
	sqliteStore, err := NewSQLiteSessionStore()
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]SessionStore{
		"memory": NewMemorySessionStore(),
		"sqlite": sqliteStore,
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun(t, "run-1", started)
			require.NoError(t, store.Save(ctx, run))

			loaded, ok, err := store.Load(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, framework.RunSucceeded, loaded.Status)
			assert.Equal(t, run.Profile.Text(), loaded.Profile.Text())
			assert.Equal(t, "strong letter", loaded.Profile.Document())
			assert.Equal(t, run.Profile.Fields(), loaded.Profile.Fields())
			assert.Equal(t, []string{"normalizer"}, loaded.Required)
			assert.True(t, started.Equal(loaded.StartedAt))
			require.Len(t, loaded.Results, 3)
			assert.Equal(t, framework.KindTimeout, loaded.Results[2].Error.Kind)
			assert.Equal(t, []string{"normalizer", "matcher"}, loaded.Context.Names())
			out, _ := loaded.Context.Get("matcher")
			assert.Equal(t, "program list", out)

			_, ok, err = store.Load(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessionStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, sampleRun(t, "older", base)))
			require.NoError(t, store.Save(ctx, sampleRun(t, "newer", base.Add(time.Hour))))

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "newer", list[0].ID)
			assert.Equal(t, 3, list[0].Stages)
			assert.Equal(t, 2, list[0].Succeeded)

			require.NoError(t, store.Delete(ctx, "newer"))
			require.NoError(t, store.Delete(ctx, "never-existed"))
			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "older", list[0].ID)
		})
	}
}

func TestSessionStoreExchanges(t *testing.T) {
	ctx := context.Background()
	asked := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.AppendExchange(ctx, "run-1", Exchange{Question: "q"}), ErrSessionNotFound)

			require.NoError(t, store.Save(ctx, sampleRun(t, "run-1", asked)))
			require.NoError(t, store.AppendExchange(ctx, "run-1", Exchange{Question: "Which is cheapest?", Answer: "TUM", AskedAt: asked}))
			require.NoError(t, store.AppendExchange(ctx, "run-1", Exchange{Question: "Deadlines?", Answer: "December", AskedAt: asked.Add(time.Minute)}))

			// re-saving keeps history
			require.NoError(t, store.Save(ctx, sampleRun(t, "run-1", asked)))

			history, err := store.History(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, "Which is cheapest?", history[0].Question)
			assert.Equal(t, "December", history[1].Answer)
			assert.True(t, asked.Add(time.Minute).Equal(history[1].AskedAt))

			require.NoError(t, store.Delete(ctx, "run-1"))
			_, err = store.History(ctx, "run-1")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestSessionStoreRejectsInvalidRuns(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(ctx, nil))
			assert.Error(t, store.Save(ctx, &framework.PipelineRun{}))
		})
	}
}

func TestMemorySessionStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemorySessionStore()
	assert.ErrorIs(t, store.Save(ctx, sampleRun(t, "x", time.Now())), context.Canceled)
	_, _, err := store.Load(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteSessionStore()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteSessionStore()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Save(ctx, sampleRun(t, "only-in-a", time.Now())))
	_, ok, err := b.Load(ctx, "only-in-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSessionStore(t *testing.T) {
	s, err := NewSessionStore("")
	require.NoError(t, err)
	assert.IsType(t, &MemorySessionStore{}, s)
	s, err = NewSessionStore("SQLite")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteSessionStore{}, s)
	_, err = NewSessionStore("redis")
	assert.Error(t, err)
}
