package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/swarmflow/internal/cache"
	"github.com/BaSui01/swarmflow/types"
)

var descriptionWords = []string{
	"implement", "test", "design", "review", "optimize", "document",
	"research", "data", "the", "parser", "quickly", "system", "report",
}

func TestProperty_SelectionDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same pool and description always pick the first max-scoring worker", prop.ForAll(
		func(capIdx []int, completed []int, wordIdx []int) bool {
			workers := make([]*Worker, len(capIdx))
			for i, c := range capIdx {
				workers[i] = &Worker{
					ID:             fmt.Sprintf("w-%d", i),
					Capability:     types.CapabilityOrder[c],
					Status:         WorkerIdle,
					TasksCompleted: completed[i%len(completed)],
					Performance:    Performance{SuccessRate: 1, AvgTaskTimeMs: float64(completed[i%len(completed)] * 10)},
				}
			}
			words := make([]string, len(wordIdx))
			for i, w := range wordIdx {
				words[i] = descriptionWords[w]
			}
			desc := strings.Join(words, " ")

			first, s1, ok1 := selectWorker(workers, desc)
			second, s2, ok2 := selectWorker(workers, desc)
			if !ok1 || !ok2 || first != second || s1 != s2 {
				return false
			}
			// 第一个取得最高分的工作者应当被选中
			bestIdx := 0
			for i, w := range workers {
				if ScoreWorker(w, desc).Total > ScoreWorker(workers[bestIdx], desc).Total {
					bestIdx = i
				}
			}
			return workers[bestIdx] == first
		},
		gen.SliceOfN(6, gen.IntRange(0, len(types.CapabilityOrder)-1)),
		gen.SliceOfN(3, gen.IntRange(0, 30)),
		gen.SliceOfN(5, gen.IntRange(0, len(descriptionWords)-1)),
	))

	properties.TestingRun(t)
}

// 任意任务与失败组合跑完后，绑定关系一致且重试次数不超过上限
func TestProperty_SchedulerInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nWorkers := rapid.IntRange(1, 4).Draw(rt, "workers")
		outcomes := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 8).Draw(rt, "outcomes")

		runner := TaskRunnerFunc(func(ctx context.Context, exec Execution) (json.RawMessage, error) {
			var n int
			_, _ = fmt.Sscanf(exec.Description, "implement item %d", &n)
			switch outcomes[n] {
			case 1:
				return nil, errors.New("connection refused")
			case 2:
				return nil, errors.New("bad request")
			}
			return json.RawMessage(`true`), nil
		})

		cfg := testConfig()
		cfg.RetryDelay = time.Millisecond
		s, err := New(cfg, runner, nil)
		require.NoError(rt, err)
		defer s.Close(context.Background())

		caps := make([]types.CapabilityType, nWorkers)
		for i := range caps {
			caps[i] = types.CapabilityCoder
		}
		_, err = s.SpawnWorkers(context.Background(), caps)
		require.NoError(rt, err)

		ids := make([]string, len(outcomes))
		for i := range outcomes {
			task, err := s.CreateTask(context.Background(), fmt.Sprintf("implement item %d", i), 1+i%10, nil)
			require.NoError(rt, err)
			ids[i] = task.ID

			s.mu.Lock()
			require.NoError(rt, s.checkInvariantsLocked())
			s.mu.Unlock()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(rt, s.WaitForTasks(ctx, ids))

		for i, id := range ids {
			task, _ := s.Task(id)
			switch outcomes[i] {
			case 0:
				assert.Equal(rt, TaskCompleted, task.Status)
			case 1:
				assert.Equal(rt, TaskFailed, task.Status)
				assert.Equal(rt, maxRetryCeiling, task.RetryCount)
			case 2:
				assert.Equal(rt, TaskFailed, task.Status)
				assert.Zero(rt, task.RetryCount)
			}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		require.NoError(rt, s.checkInvariantsLocked())
	})
}

func TestRedisRoutingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	m, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	rc := NewRedisRoutingCache(m, "swarm-1", time.Minute, nil)

	_, ok := rc.Get(ctx, "implement the parser")
	assert.False(t, ok)

	rc.Set(ctx, "implement the parser", "coder-2")
	got, ok := rc.Get(ctx, "implement the parser")
	require.True(t, ok)
	assert.Equal(t, "coder-2", got)

	// 作用域隔离
	other := NewRedisRoutingCache(m, "swarm-2", time.Minute, nil)
	_, ok = other.Get(ctx, "implement the parser")
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok = rc.Get(ctx, "implement the parser")
	assert.False(t, ok)
}

func TestNoopRoutingCache(t *testing.T) {
	c := NoopRoutingCache()
	c.Set(context.Background(), "k", "w")
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}
