// Package limiter caps concurrent sends per channel. The cap is shared by
// every campaign using that channel.
package limiter

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// Limiter hands out send permits. The returned release must be called once.
type Limiter interface {
	Acquire(ctx context.Context, ch model.Channel) (release func(), err error)
}

// Local is a process-wide semaphore per channel.
type Local struct {
	sems map[model.Channel]*semaphore.Weighted
}

func NewLocal(caps map[model.Channel]int) *Local {
	l := &Local{sems: make(map[model.Channel]*semaphore.Weighted, len(caps))}
	for ch, n := range caps {
		l.sems[ch] = semaphore.NewWeighted(int64(n))
	}
	return l
}

func (l *Local) Acquire(ctx context.Context, ch model.Channel) (func(), error) {
	sem, ok := l.sems[ch]
	if !ok {
		return nil, fmt.Errorf("no concurrency cap configured for channel %s", ch)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
