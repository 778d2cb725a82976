package platform

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// seqJob is one admitted request waiting for its turn.
type seqJob struct {
	family Family
	run    func(ctx context.Context)
	done   chan struct{}
}

// Sequencer funnels every outbound call through one worker goroutine, so
// no two transport calls are ever in flight at once. The remote API's rate
// limiting reacts to burst concurrency, not just sustained rate; strict
// serialization is the point, not an implementation shortcut.
//
// Admission is unconditional. Pacing is the only control: before each
// dispatch the worker sleeps out whatever remains of the global and
// per-family minimum intervals.
type Sequencer struct {
	queue chan *seqJob
	table *PacingTable
	depth atomic.Int64

	globalLast time.Time
	familyLast map[string]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	startOnce sync.Once
	stop      context.CancelFunc
	stopped   chan struct{}
}

// NewSequencer creates a stopped sequencer; call Start before enqueueing.
func NewSequencer(table *PacingTable, queueSize int) *Sequencer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Sequencer{
		queue:      make(chan *seqJob, queueSize),
		table:      table,
		familyLast: make(map[string]time.Time),
		now:        time.Now,
		sleep:      sleepCtx,
		stopped:    make(chan struct{}),
	}
}

// Start launches the worker. Safe to call once per instance.
func (s *Sequencer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.stop = context.WithCancel(ctx)
		go s.loop(ctx)
	})
}

// Close stops the worker. Jobs still queued are abandoned; jobs already
// dispatched run to completion first.
func (s *Sequencer) Close() {
	if s.stop != nil {
		s.stop()
		<-s.stopped
	}
}

// Enqueue admits a job and blocks until the worker has completed it, or
// until ctx is cancelled. Cancellation after admission does not pull the
// job back: the worker still runs it, preserving pacing integrity, and the
// caller simply stops waiting.
func (s *Sequencer) Enqueue(ctx context.Context, family Family, run func(ctx context.Context)) error {
	j := &seqJob{family: family, run: run, done: make(chan struct{})}

	s.depth.Add(1)
	queueDepth.Inc()
	select {
	case s.queue <- j:
	case <-ctx.Done():
		s.depth.Add(-1)
		queueDepth.Dec()
		return ctx.Err()
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth reports jobs admitted but not yet completed. Observability only;
// it never gates admission.
func (s *Sequencer) Depth() int {
	return int(s.depth.Load())
}

func (s *Sequencer) loop(ctx context.Context) {
	defer close(s.stopped)
	defer s.drain()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if wait := s.waitFor(j.family); wait > 0 {
				pacingWait.Add(wait.Seconds())
				if err := s.sleep(ctx, wait); err != nil {
					s.finish(j)
					return
				}
			}
			j.run(ctx)
			now := s.now()
			s.globalLast = now
			s.familyLast[j.family.Name] = now
			s.finish(j)
		}
	}
}

// drain releases every job still queued when the worker exits. Their done
// channels close without the job running, so blocked Enqueue callers return
// instead of waiting forever.
func (s *Sequencer) drain() {
	for {
		select {
		case j := <-s.queue:
			s.finish(j)
		default:
			return
		}
	}
}

func (s *Sequencer) finish(j *seqJob) {
	s.depth.Add(-1)
	queueDepth.Dec()
	close(j.done)
}

// waitFor computes the remaining pacing delay for a family: the larger of
// what is left of the global interval and of the family interval.
func (s *Sequencer) waitFor(f Family) time.Duration {
	now := s.now()

	wait := time.Duration(0)
	if !s.globalLast.IsZero() {
		if d := s.table.GlobalMin() - now.Sub(s.globalLast); d > wait {
			wait = d
		}
	}
	if last, ok := s.familyLast[f.Name]; ok {
		min := f.MinInterval
		if min <= 0 {
			min = defaultFamily.MinInterval
		}
		if d := min - now.Sub(last); d > wait {
			wait = d
		}
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
