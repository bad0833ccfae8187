// Package dispatcher fans item stubs out to a bounded pool of detail tasks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

// DefaultWidth is the pool width used when none is configured.
const DefaultWidth = 16

// Processor handles one item stub.
type Processor interface {
	Process(ctx context.Context, stub crawler.ItemStub) (claimed bool, err error)
}

// Pool runs at most width tasks at once. Submit and Drain are called from the
// controller goroutine only.
type Pool struct {
	proc   Processor
	width  int
	logger *zap.Logger

	mu      sync.Mutex
	group   *errgroup.Group
	claimed atomic.Int64
	failed  atomic.Int64
}

// New creates a Pool. width <= 0 uses DefaultWidth.
func New(width int, proc Processor, logger *zap.Logger) (*Pool, error) {
	if proc == nil {
		return nil, errors.New("dispatcher: processor is required")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{proc: proc, width: width, logger: logger.Named("dispatcher")}
	p.group = p.newGroup()
	return p, nil
}

func (p *Pool) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(p.width)
	return g
}

// Width reports the configured concurrency.
func (p *Pool) Width() int {
	return p.width
}

// Submit schedules stub, blocking while the pool is full. Tasks never fail the
// group, so one item cannot cancel its siblings.
func (p *Pool) Submit(ctx context.Context, stub crawler.ItemStub) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()

	g.Go(func() error {
		claimed, err := p.proc.Process(ctx, stub)
		if claimed {
			p.claimed.Add(1)
		}
		if err != nil {
			p.failed.Add(1)
			p.logger.Error("item task failed", zap.Int64("id", stub.ID), zap.Error(err))
		}
		return nil
	})
	return nil
}

// Drain waits for every submitted task and returns how many of them claimed
// a new item since the previous Drain.
func (p *Pool) Drain() int {
	p.mu.Lock()
	g := p.group
	p.group = p.newGroup()
	p.mu.Unlock()

	_ = g.Wait()
	return int(p.claimed.Swap(0))
}

// Failed reports tasks whose records could not be handed to the sink.
func (p *Pool) Failed() int {
	return int(p.failed.Load())
}
