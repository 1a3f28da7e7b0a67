// Package indexset stores the global-to-local index mapping of one process
// in a distributed computation. Entries are kept unique and ascending-sorted
// by global index, so the correspondence layer above can run merge scans
// over them. A sequence number is bumped on every structural change; tables
// holding borrowed references compare it to detect staleness.
package indexset

import (
	"errors"
	"fmt"
	"iter"
	"sort"
)

var (
	ErrDuplicate = errors.New("indexset: global index already present")
	ErrNotFound  = errors.New("indexset: no such global index")
)

// Attribute is a small categorical tag describing the role of an index on
// the process that owns it. The predeclared values cover the usual domain
// decomposition roles; applications may define their own above Overlap.
type Attribute byte

const (
	Owner Attribute = iota + 1
	Border
	Overlap
)

func (a Attribute) String() string {
	switch a {
	case Owner:
		return "owner"
	case Border:
		return "border"
	case Overlap:
		return "overlap"
	default:
		return fmt.Sprintf("attr(%d)", byte(a))
	}
}

type State byte

const (
	Valid State = iota
	Deleted
)

// Local is the process-local descriptor of one index: its slot in the
// process's own numbering, its attribute, whether it may be disclosed to
// other processes, and its lifecycle state.
type Local struct {
	slot   uint32
	attr   Attribute
	public bool
	state  State
}

func NewLocal(slot uint32, attr Attribute, public bool) Local {
	return Local{slot: slot, attr: attr, public: public, state: Valid}
}

func (l *Local) Slot() uint32         { return l.slot }
func (l *Local) Attribute() Attribute { return l.attr }
func (l *Local) IsPublic() bool       { return l.public }
func (l *Local) State() State         { return l.state }

func (l *Local) SetAttribute(attr Attribute) { l.attr = attr }
func (l *Local) SetState(state State)        { l.state = state }

// Pair binds a global index to its local descriptor. Pointers to pairs are
// handed out by Set and stay valid only until the next structural mutation.
type Pair struct {
	global uint64
	local  Local
}

func (p *Pair) Global() uint64 { return p.global }
func (p *Pair) Local() *Local  { return &p.local }

func (p *Pair) String() string {
	return fmt.Sprintf("{global=%d, slot=%d, attr=%s, public=%t}",
		p.global, p.local.slot, p.local.attr, p.local.public)
}

// Set is the ordered, duplicate-free collection of pairs. It is not safe
// for concurrent mutation; the exchange layer only ever reads it.
type Set struct {
	pairs  []Pair
	public int
	seq    uint64
}

func New() *Set {
	return &Set{}
}

// Add inserts a pair keeping the ascending global order. Any pointer
// previously obtained from this set must be considered dangling afterwards.
func (s *Set) Add(global uint64, local Local) error {
	i := sort.Search(len(s.pairs), func(i int) bool {
		return s.pairs[i].global >= global
	})
	if i < len(s.pairs) && s.pairs[i].global == global {
		return ErrDuplicate
	}
	s.pairs = append(s.pairs, Pair{})
	copy(s.pairs[i+1:], s.pairs[i:])
	s.pairs[i] = Pair{global: global, local: local}
	if local.public {
		s.public++
	}
	s.seq++
	return nil
}

// Remove deletes the pair for the given global index.
func (s *Set) Remove(global uint64) error {
	i := sort.Search(len(s.pairs), func(i int) bool {
		return s.pairs[i].global >= global
	})
	if i == len(s.pairs) || s.pairs[i].global != global {
		return ErrNotFound
	}
	if s.pairs[i].local.public {
		s.public--
	}
	s.pairs = append(s.pairs[:i], s.pairs[i+1:]...)
	s.seq++
	return nil
}

// Find returns the pair for the given global index, if present.
func (s *Set) Find(global uint64) (*Pair, bool) {
	i := sort.Search(len(s.pairs), func(i int) bool {
		return s.pairs[i].global >= global
	})
	if i == len(s.pairs) || s.pairs[i].global != global {
		return nil, false
	}
	return &s.pairs[i], true
}

// At returns the i-th pair in ascending global order.
func (s *Set) At(i int) *Pair {
	return &s.pairs[i]
}

func (s *Set) Len() int {
	return len(s.pairs)
}

// PublicCount is the number of entries eligible for disclosure to peers.
func (s *Set) PublicCount() int {
	return s.public
}

// Seq is the structural mutation counter.
func (s *Set) Seq() uint64 {
	return s.seq
}

// Pairs iterates the set in ascending global order.
func (s *Set) Pairs() iter.Seq[*Pair] {
	return func(yield func(*Pair) bool) {
		for i := range s.pairs {
			if !yield(&s.pairs[i]) {
				return
			}
		}
	}
}
