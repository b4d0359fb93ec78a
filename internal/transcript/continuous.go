package transcript

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/logging"
)

// Source is a single-shot recognition stream that can be started again after it ends.
type Source interface {
	Start(ctx context.Context) (<-chan Fragment, error)
	Stop() error
	// Err reports why the last stream ended; nil means a benign end of stream.
	Err() error
}

// Continuous keeps a Source running for the whole session: a benign end of stream restarts it,
// a permission error ends it, and nothing restarts once Stop has been called. Sequence indices are
// rebased on each restart so they keep increasing across the underlying streams.
type Continuous struct {
	src          Source
	restartDelay time.Duration
	maxFailures  int
	log          *zap.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewContinuous wraps src.
func NewContinuous(src Source, log *zap.Logger) *Continuous {
	return &Continuous{src: src, restartDelay: 250 * time.Millisecond, maxFailures: 5, log: logging.OrNop(log)}
}

// WithRestartDelay sets the pause between an ended stream and its restart.
func (c *Continuous) WithRestartDelay(d time.Duration) *Continuous {
	c.restartDelay = d
	return c
}

// Start opens the first stream synchronously so permission problems surface to the caller.
func (c *Continuous) Start(ctx context.Context) (<-chan Fragment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return nil, errors.New("recognition: already started")
	}
	first, err := c.src.Start(ctx)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.stopped = false
	c.err = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	out := make(chan Fragment, 100)
	go c.run(runCtx, first, out, c.done)
	return out, nil
}

func (c *Continuous) run(ctx context.Context, in <-chan Fragment, out chan<- Fragment, done chan struct{}) {
	defer close(done)
	defer close(out)

	base, highest := 0, -1
	failures := 0
	for {
		for f := range in {
			f.SequenceIndex += base
			if f.SequenceIndex > highest {
				highest = f.SequenceIndex
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if c.isStopped() || ctx.Err() != nil {
			return
		}
		if err := c.src.Err(); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				c.setErr(err)
				return
			}
			failures++
			if failures >= c.maxFailures {
				c.log.Error("recognition failed repeatedly, giving up", zap.Error(err))
				c.setErr(err)
				return
			}
		} else {
			failures = 0
		}

		c.log.Debug("recognition stream ended, restarting", zap.Int("next_index", highest+1))
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.restartDelay):
			}
			if c.isStopped() {
				return
			}
			next, err := c.src.Start(ctx)
			if err == nil {
				if c.isStopped() {
					_ = c.src.Stop()
					return
				}
				in = next
				base = highest + 1
				break
			}
			if errors.Is(err, ErrPermissionDenied) {
				c.setErr(err)
				return
			}
			failures++
			if failures >= c.maxFailures {
				c.log.Error("recognition restart failed repeatedly, giving up", zap.Error(err))
				c.setErr(err)
				return
			}
			c.log.Warn("recognition restart failed", zap.Error(err))
		}
	}
}

// Stop ends recognition for good and waits for the pump to exit.
func (c *Continuous) Stop() error {
	c.mu.Lock()
	if c.done == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.done = nil
	c.mu.Unlock()

	err := c.src.Stop()
	cancel()
	<-done
	return err
}

// Err returns the error that ended recognition, if any.
func (c *Continuous) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Continuous) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Continuous) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
