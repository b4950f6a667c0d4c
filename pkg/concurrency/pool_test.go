package concurrency

import (
	"kimchi_arb/internal/core"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestWorkerPool_RunAll(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "snapshot", MaxWorkers: 4}, &noopLogger{})
	defer pool.Stop()

	results := make([]int, 5)
	tasks := make([]func(), 0, len(results))
	for i := range results {
		i := i
		tasks = append(tasks, func() { results[i] = i * i })
	}

	pool.RunAll(tasks...)
	assert.Equal(t, []int{0, 1, 4, 9, 16}, results)
}

func TestWorkerPool_RunAllSurvivesPanic(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panicky", MaxWorkers: 2}, &noopLogger{})
	defer pool.Stop()

	var ran int64
	pool.RunAll(
		func() { panic("venue adapter bug") },
		func() { atomic.AddInt64(&ran, 1) },
	)
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestWorkerPool_Stats(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "stats"}, &noopLogger{})
	defer pool.Stop()

	pool.RunAll()
	assert.Equal(t, uint64(0), pool.Stats().Submitted)

	pool.RunAll(func() {}, func() {}, func() { panic("boom") })
	assert.Equal(t, uint64(3), pool.Stats().Submitted)
	// outcome counters are updated after the group is released
	assert.Eventually(t, func() bool {
		st := pool.Stats()
		return st.Successful == 2 && st.Failed == 1
	}, time.Second, 5*time.Millisecond)
}

func BenchmarkWorkerPool_RunAll(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{Name: "bench", MaxWorkers: 8, MaxCapacity: 256}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	task := func() { atomic.AddInt64(&counter, 1) }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.RunAll(task, task, task, task)
	}
}
