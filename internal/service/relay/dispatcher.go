package relay

import (
	"context"
	"log"
	"sync"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// Dispatcher fans an accepted transcript out to one pipeline task per
// configured language target. Languages are fully independent: a failure in
// one never blocks or cancels the others, and dispatch returns without
// waiting for any pipeline to finish.
//
// Every spawned task is retained in a WaitGroup so shutdown can drain them
// deterministically instead of leaking fire-and-forget goroutines.
type Dispatcher struct {
	targets  []relaymodel.LanguageTarget
	pipeline *Pipeline

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup

	// onDone 在单个流水线任务结束后回调（err为nil表示成功）。可为nil。
	onDone func(code string, err error)
}

// NewDispatcher returns a dispatcher over the configured targets.
func NewDispatcher(targets []relaymodel.LanguageTarget, pipeline *Pipeline) *Dispatcher {
	return &Dispatcher{
		targets:  targets,
		pipeline: pipeline,
		inflight: make(map[string]struct{}),
	}
}

// SetDoneHook registers a completion callback used for bookkeeping.
func (d *Dispatcher) SetDoneHook(hook func(code string, err error)) {
	d.onDone = hook
}

// Dispatch starts one pipeline task per target for the given transcript and
// returns the number of tasks started. A task is skipped when an identical
// (language, text) pair is still in flight: rebroadcasting the same utterance
// twice in parallel only produces overlapping speech in the room.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) int {
	started := 0
	for _, target := range d.targets {
		target := target
		key := target.Code + "\x00" + text

		d.mu.Lock()
		if _, dup := d.inflight[key]; dup {
			d.mu.Unlock()
			log.Printf("[dispatch] %s skipped, identical text already in flight", target.Code)
			continue
		}
		d.inflight[key] = struct{}{}
		d.mu.Unlock()

		d.wg.Add(1)
		started++
		go func() {
			defer d.wg.Done()
			defer func() {
				d.mu.Lock()
				delete(d.inflight, key)
				d.mu.Unlock()
			}()

			err := d.pipeline.Run(ctx, target, text)
			if d.onDone != nil {
				d.onDone(target.Code, err)
			}
		}()
	}
	return started
}

// Go runs an auxiliary task under the same supervisor so it is drained on
// shutdown together with the pipeline tasks.
func (d *Dispatcher) Go(task func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		task()
	}()
}

// Drain waits for all outstanding tasks, or gives up when ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
