// Package ratelimit provides the permit pool that paces requests to the
// weather API. A Limiter combines an in-flight cap with a sliding-window
// request budget; callers suspend until both allow them through.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/agbru/cityweather/internal/errors"
)

// Default budget: 10 requests per 60 seconds.
const (
	DefaultRequests = 10
	DefaultWindow   = 60 * time.Second
)

// errDeadline is returned when the window would only open after ctx's deadline.
var errDeadline = errors.New("window opens after the context deadline")

// Options configures a Limiter. A zero field disables that constraint.
type Options struct {
	// MaxInFlight caps concurrently held permits.
	MaxInFlight int
	// Requests is the most permits granted within any Window-long span.
	Requests int
	Window   time.Duration
}

// Limiter hands out permits. It is safe for concurrent use. The fetch
// command builds one per run; the server shares one across requests.
type Limiter struct {
	sem    *semaphore.Weighted
	window *slidingWindow

	inFlight    atomic.Int64
	maxObserved atomic.Int64
	granted     atomic.Int64
}

// New builds a Limiter from opts.
func New(opts Options) *Limiter {
	l := &Limiter{}
	if opts.MaxInFlight > 0 {
		l.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}
	if opts.Requests > 0 && opts.Window > 0 {
		l.window = &slidingWindow{size: opts.Requests, span: opts.Window}
	}
	return l
}

// Acquire blocks until a permit is available or ctx is done. It takes an
// in-flight slot first, then waits for room in the window, so a grant is
// recorded only when the request is about to start. The returned release
// func must be called once the request finishes; extra calls are no-ops.
// Errors wrap apperrors.ErrRateLimited and the cause.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err)
		}
	}
	if l.window != nil {
		if err := l.window.wait(ctx); err != nil {
			if l.sem != nil {
				l.sem.Release(1)
			}
			return nil, fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err)
		}
	}

	n := l.inFlight.Add(1)
	l.granted.Add(1)
	for {
		m := l.maxObserved.Load()
		if n <= m || l.maxObserved.CompareAndSwap(m, n) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			if l.sem != nil {
				l.sem.Release(1)
			}
		})
	}, nil
}

// slidingWindow remembers the last size grant times and admits a new grant
// only when fewer than size of them fall within span of now.
type slidingWindow struct {
	mu     sync.Mutex
	size   int
	span   time.Duration
	grants []time.Time // oldest first
}

// reserve records a grant and returns 0 when the window has room; otherwise
// it returns how long until the oldest grant leaves the window.
func (w *slidingWindow) reserve(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.grants) && !w.grants[i].After(cutoff) {
		i++
	}
	w.grants = w.grants[i:]
	if len(w.grants) < w.size {
		w.grants = append(w.grants, now)
		return 0
	}
	return w.grants[0].Sub(cutoff)
}

func (w *slidingWindow) wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		d := w.reserve(now)
		if d == 0 {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && now.Add(d).After(deadline) {
			return errDeadline
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight reports the number of permits currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// MaxObserved reports the highest number of permits held at once.
func (l *Limiter) MaxObserved() int { return int(l.maxObserved.Load()) }

// Granted reports the total number of permits handed out.
func (l *Limiter) Granted() int { return int(l.granted.Load()) }
