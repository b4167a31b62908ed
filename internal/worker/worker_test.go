package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khanhng/llm-router/internal/billing"
	"github.com/khanhng/llm-router/internal/provider"
	"github.com/khanhng/llm-router/internal/routing"
)

type stubProvider struct {
	name string
	err  error
}

func (s *stubProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Response{
		Content:      "done",
		Provider:     s.name,
		Model:        req.Model,
		Usage:        provider.Usage{InputTokens: 5, OutputTokens: 5, TotalTokens: 10},
		FinishReason: provider.FinishComplete,
	}, nil
}

func (s *stubProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	ch := make(chan *provider.Chunk, 1)
	ch <- &provider.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Name() string                { return s.name }
func (s *stubProvider) Available() bool             { return true }
func (s *stubProvider) DefaultModel() string        { return "stub-model" }
func (s *stubProvider) SupportedModels() []string   { return []string{"stub-model"} }
func (s *stubProvider) CostPerInputToken() float64  { return 0 }
func (s *stubProvider) CostPerOutputToken() float64 { return 0 }

func newTestQueue(t *testing.T, p provider.Provider) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	registry := routing.NewRegistry()
	require.NoError(t, registry.Register(p))
	manager := routing.NewManager(registry, routing.Config{Strategy: routing.StrategyDefault}, billing.NewLedger(), zap.NewNop())

	return NewRedisQueue(rdb, manager, zap.NewNop()), mr
}

func pendingJob() *Job {
	return &Job{
		TenantID: "tenant-1",
		Request: &provider.Request{
			Messages: []provider.Message{{Role: "user", Content: "hello"}},
		},
		Options: routing.DefaultOptions(),
	}
}

func TestEnqueueAssignsIDAndPersists(t *testing.T) {
	q, mr := newTestQueue(t, &stubProvider{name: "openai"})
	ctx := context.Background()

	job := pendingJob()
	require.NoError(t, q.Enqueue(ctx, job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, JobStatusPending, got.Status)

	// The queue list holds the job id.
	ids, err := mr.List(queueKey)
	require.NoError(t, err)
	assert.Contains(t, ids, job.ID)
}

func TestGetUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t, &stubProvider{name: "openai"})

	_, err := q.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunStoresResult(t *testing.T) {
	q, _ := newTestQueue(t, &stubProvider{name: "openai"})
	ctx := context.Background()

	job := pendingJob()
	require.NoError(t, q.Enqueue(ctx, job))

	q.run(ctx, job.ID)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.Content)
	assert.Equal(t, "openai", got.Result.Provider)
	assert.Empty(t, got.Error)
}

func TestRunStoresFailure(t *testing.T) {
	q, _ := newTestQueue(t, &stubProvider{name: "openai", err: errors.New("upstream down")})
	ctx := context.Background()

	job := pendingJob()
	require.NoError(t, q.Enqueue(ctx, job))

	q.run(ctx, job.ID)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Nil(t, got.Result)
	assert.Contains(t, got.Error, "upstream down")
}

func TestProcessDrainsQueue(t *testing.T) {
	q, _ := newTestQueue(t, &stubProvider{name: "openai"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := pendingJob()
	require.NoError(t, q.Enqueue(ctx, job))

	done := make(chan error, 1)
	go func() { done <- q.Process(ctx) }()

	require.Eventually(t, func() bool {
		got, err := q.Get(context.Background(), job.ID)
		return err == nil && got.Status == JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not stop after cancel")
	}
}
