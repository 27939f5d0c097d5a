package montecarlo

import (
	"context"
	"sync"
)

// trialJob is a single trial task
type trialJob struct {
	index int
	seed  [2]uint64
}

// trialResult is the outcome of a trial job
type trialResult struct {
	index   int
	outcome trialOutcome
}

// workerPool manages parallel trial execution
type workerPool struct {
	workerCount    int
	profits        []float64
	initialBalance float64
	jobQueue       chan trialJob
	resultQueue    chan trialResult
	wg             sync.WaitGroup
	ctx            context.Context
}

func newWorkerPool(ctx context.Context, workerCount int, profits []float64, initialBalance float64) *workerPool {
	return &workerPool{
		workerCount:    workerCount,
		profits:        profits,
		initialBalance: initialBalance,
		jobQueue:       make(chan trialJob, workerCount*2),
		resultQueue:    make(chan trialResult, workerCount*2),
		ctx:            ctx,
	}
}

// start launches the workers
func (wp *workerPool) start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// worker processes trial jobs until the queue closes or the context ends
func (wp *workerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			result := trialResult{index: job.index, outcome: runTrial(wp.profits, job.seed, wp.initialBalance)}

			select {
			case wp.resultQueue <- result:
			case <-wp.ctx.Done():
				return
			}

		case <-wp.ctx.Done():
			return
		}
	}
}

// run feeds every seed through the pool and collects outcomes in trial order
func (s *Simulator) run(ctx context.Context, profits []float64, seeds [][2]uint64, initialBalance float64) ([]trialOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := s.workers
	if workers > len(seeds) {
		workers = len(seeds)
	}
	wp := newWorkerPool(ctx, workers, profits, initialBalance)
	wp.start()

	go func() {
		defer close(wp.jobQueue)
		for i, seed := range seeds {
			select {
			case wp.jobQueue <- trialJob{index: i, seed: seed}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wp.wg.Wait()
		close(wp.resultQueue)
	}()

	outcomes := make([]trialOutcome, len(seeds))
	received := 0
	for r := range wp.resultQueue {
		outcomes[r.index] = r.outcome
		received++
	}

	if err := ctx.Err(); err != nil && received < len(seeds) {
		return nil, err
	}
	return outcomes, nil
}
