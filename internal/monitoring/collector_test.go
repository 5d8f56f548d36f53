package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinecard/cinecard/internal/model"
)

type mockSource struct {
	works    model.WorkCounts
	queue    model.QueueCounts
	runs     []model.IngestionRunLog
	worksErr error
	queueErr error
	runsErr  error
}

func (m *mockSource) CountWorks(context.Context) (model.WorkCounts, error) {
	return m.works, m.worksErr
}

func (m *mockSource) CountQueue(context.Context) (model.QueueCounts, error) {
	return m.queue, m.queueErr
}

func (m *mockSource) ListRunLogs(_ context.Context, limit int) ([]model.IngestionRunLog, error) {
	if m.runsErr != nil {
		return nil, m.runsErr
	}
	if len(m.runs) > limit {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func TestCollector_Collect(t *testing.T) {
	now := time.Now().UTC()
	src := &mockSource{
		works: model.WorkCounts{model.IngestionComplete: 40, model.IngestionFailed: 2},
		queue: model.QueueCounts{model.QueueQueued: 7, model.QueueFailed: 3, model.QueueCompleted: 12},
		runs: []model.IngestionRunLog{
			{ID: "r3", StartedAt: now.Add(-1 * time.Hour), Ingested: 8, Failed: 2},
			{ID: "r2", StartedAt: now.Add(-5 * time.Hour), Ingested: 10, Errors: []string{"tmdb: list popular page 1"}},
			{ID: "r1", StartedAt: now.Add(-48 * time.Hour), Ingested: 20, Failed: 20},
		},
	}

	snap, err := NewCollector(src).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 40, snap.Works[model.IngestionComplete])
	assert.Equal(t, 7, snap.QueueDepth)
	assert.Equal(t, 3, snap.DeadLetters)
	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsWithErrors)
	assert.Equal(t, 18, snap.TitlesIngested)
	assert.Equal(t, 2, snap.TitlesFailed)
	assert.InDelta(t, 0.1, snap.IngestFailRate, 1e-9)
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, "r3", snap.LastRun.ID)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockSource{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Nil(t, snap.LastRun)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.IngestFailRate)
}

func TestCollector_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  *mockSource
		want string
	}{
		{"works", &mockSource{worksErr: eris.New("db down")}, "count works"},
		{"queue", &mockSource{queueErr: eris.New("db down")}, "count queue"},
		{"runs", &mockSource{runsErr: eris.New("db down")}, "list runs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCollector(tt.src).Collect(context.Background(), 24)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCollector_WithSpend(t *testing.T) {
	c := NewCollector(&mockSource{}).WithSpend(func() float64 { return 0.0125 })
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.InDelta(t, 0.0125, snap.LoglineSpendUSD, 1e-9)
}
