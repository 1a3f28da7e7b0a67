package transport

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/spmdkit/overlap/wire"
)

type mailKey struct {
	from, to, tag int
}

type mail struct {
	data []byte
	done chan struct{}
}

// group is the shared state of an in-process SPMD group: rendezvous
// mailboxes keyed by (from, to, tag) and a counting barrier for reductions.
type group struct {
	n    int
	mail *xsync.MapOf[mailKey, chan mail]

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	max     int
	result  int
}

func (g *group) mailbox(k mailKey) chan mail {
	ch, _ := g.mail.LoadOrCompute(k, func() chan mail {
		return make(chan mail)
	})
	return ch
}

// allReduceMax is a classic counting barrier carrying a max reduction. The
// last rank to arrive publishes the result and releases the generation.
func (g *group) allReduceMax(v int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.arrived == 0 || v > g.max {
		g.max = v
	}
	g.arrived++
	if g.arrived == g.n {
		g.arrived = 0
		g.result = g.max
		g.gen++
		g.cond.Broadcast()
		return g.result
	}
	gen := g.gen
	for gen == g.gen {
		g.cond.Wait()
	}
	return g.result
}

// Local is one rank of an in-process group. It backs the multi-rank tests
// and the demo binary; every rank must run on its own goroutine.
type Local struct {
	g      *group
	rank   int
	closed atomic.Bool
}

var _ Transport = (*Local)(nil)

// NewGroup creates an n-rank in-process group and returns one transport
// per rank.
func NewGroup(n int) []*Local {
	g := &group{
		n:    n,
		mail: xsync.NewMapOf[mailKey, chan mail](),
	}
	g.cond = sync.NewCond(&g.mu)
	ranks := make([]*Local, n)
	for i := range ranks {
		ranks[i] = &Local{g: g, rank: i}
	}
	return ranks
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.g.n }

func (l *Local) AllReduceMax(v int) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if l.g.n == 1 {
		return v, nil
	}
	return l.g.allReduceMax(v), nil
}

func (l *Local) Send(buf []byte, to, tag int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if to < 0 || to >= l.g.n || to == l.rank {
		return ErrRankOutOfRange
	}
	m := mail{data: buf, done: make(chan struct{})}
	// The mailbox channel is unbuffered, so this blocks until the peer's
	// Recv is at the channel; waiting on done covers the copy-out.
	l.g.mailbox(mailKey{from: l.rank, to: to, tag: tag}) <- m
	<-m.done
	return nil
}

func (l *Local) Recv(buf []byte, from, tag int) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if from < 0 || from >= l.g.n || from == l.rank {
		return 0, ErrRankOutOfRange
	}
	m := <-l.g.mailbox(mailKey{from: from, to: l.rank, tag: tag})
	defer close(m.done)
	if len(m.data) > len(buf) {
		return 0, ErrRecvOverflow
	}
	return copy(buf, m.data), nil
}

func (l *Local) PackedSize(n int) int {
	return n * wire.RecordSize
}

func (l *Local) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}
