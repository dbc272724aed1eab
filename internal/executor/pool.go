package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrison/orchestra/internal/logger"
	"github.com/harrison/orchestra/internal/models"
)

// Pool executes an already-fixed plan with bounded parallelism. Tasks run as
// soon as every task they depend on has finished; the plan itself does not
// mutate while a pool run is in flight. Sequential adaptive execution is the
// planner's job; the pool trades adaptivity for throughput.
type Pool struct {
	exec           *Executor
	log            logger.Logger
	maxConcurrency int
}

// NewPool creates a Pool. maxConcurrency values below 1 mean "one goroutine
// per ready task".
func NewPool(exec *Executor, log logger.Logger, maxConcurrency int) *Pool {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Pool{exec: exec, log: log, maxConcurrency: maxConcurrency}
}

type poolResult struct {
	taskID string
	result models.ExecutionResult
}

// Run executes the subtasks in dependency order and returns every task's
// result. A failed dependency does not block its dependents; they run with
// whatever context is available. Run stops early only on context
// cancellation.
func (p *Pool) Run(ctx context.Context, subtasks []models.Subtask) (map[string]models.ExecutionResult, error) {
	results := make(map[string]models.ExecutionResult, len(subtasks))
	done := make(map[string]bool, len(subtasks))

	remaining := make([]models.Subtask, len(subtasks))
	copy(remaining, subtasks)

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		var wave []models.Subtask
		var blocked []models.Subtask
		for _, st := range remaining {
			if depsDone(st, done) {
				wave = append(wave, st)
			} else {
				blocked = append(blocked, st)
			}
		}
		if len(wave) == 0 {
			// Validated plans are acyclic, so this indicates a plan that
			// was mutated out from under the pool.
			return results, fmt.Errorf("no runnable tasks among %d remaining", len(remaining))
		}

		p.runWave(ctx, wave, results, len(subtasks), len(done))

		for _, st := range wave {
			done[st.ID] = true
		}
		remaining = blocked
	}

	return results, nil
}

// runWave executes one set of ready tasks with the concurrency bound.
func (p *Pool) runWave(ctx context.Context, wave []models.Subtask, results map[string]models.ExecutionResult, total, completed int) {
	maxConcurrency := p.maxConcurrency
	if maxConcurrency <= 0 || maxConcurrency > len(wave) {
		maxConcurrency = len(wave)
	}

	semaphore := make(chan struct{}, maxConcurrency)
	resultsCh := make(chan poolResult, len(wave))

	var wg sync.WaitGroup
	for i, st := range wave {
		wg.Add(1)
		go func(index int, subtask models.Subtask) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			p.log.LogTaskStart(subtask, completed+index, total)
			result := p.exec.ExecuteSubtask(ctx, subtask, Progress{
				CurrentIndex: completed + index,
				TotalTasks:   total,
			})
			if err := p.log.LogTaskResult(result); err != nil {
				p.log.LogWarn(fmt.Sprintf("log task result for %s: %v", subtask.ID, err))
			}
			resultsCh <- poolResult{taskID: subtask.ID, result: result}
		}(i, st)
	}

	wg.Wait()
	close(resultsCh)

	for r := range resultsCh {
		results[r.taskID] = r.result
	}
}

func depsDone(st models.Subtask, done map[string]bool) bool {
	for _, dep := range st.Dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}
