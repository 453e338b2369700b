package eventloop

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Group owns a fixed set of loops and hands them out round-robin.
type Group struct {
	loops []*Loop
	next  atomic.Uint64
}

// NewGroup creates count loops. A count below one is treated as one.
func NewGroup(count int) *Group {
	if count < 1 {
		count = 1
	}

	g := &Group{loops: make([]*Loop, count)}
	for i := range g.loops {
		g.loops[i] = New(fmt.Sprintf("loop-%d", i))
	}

	return g
}

// Pick returns the loop the next request should be bound to.
func (g *Group) Pick() *Loop {
	n := g.next.Add(1) - 1
	return g.loops[n%uint64(len(g.loops))]
}

// Loops returns the loops in the group.
func (g *Group) Loops() []*Loop {
	return g.loops
}

// Run runs every loop until ctx is canceled or Stop is called.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	for _, l := range g.loops {
		eg.Go(func() error {
			return l.Run(ctx)
		})
	}

	return eg.Wait()
}

// Stop stops every loop in the group.
func (g *Group) Stop() {
	for _, l := range g.loops {
		l.Stop()
	}
}
