// Package overlap builds, for one process of an SPMD computation, the table
// of remote copies of its locally held indices: which other ranks hold
// which of this process's global indices, under which attribute, plus the
// local source-to-destination copy list. It is the index-correspondence
// layer under distributed sparse matrix/vector exchange; a later data
// exchange phase consumes the table to know whom to talk to about what.
package overlap

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spmdkit/overlap/indexset"
	"github.com/spmdkit/overlap/transport"
	"github.com/spmdkit/overlap/utils"
)

// commTag marks index exchange traffic on the transport.
const commTag = 333

const holdersCacheSize = 4096

// unsyncedSeq never equals a real sequence number, so a fresh table reports
// unsynced until the first Rebuild.
const unsyncedSeq = ^uint64(0)

// RemoteIndex describes one remote copy of a locally held index: the
// attribute the index carries on the remote rank, and a borrowed reference
// to the local pair. The reference dangles once the owning set mutates
// structurally; rebuild before dereferencing (see Table.Synced).
type RemoteIndex struct {
	attr indexset.Attribute
	pair *indexset.Pair
}

// Attribute is the attribute of the index as seen on the remote rank.
func (r RemoteIndex) Attribute() indexset.Attribute { return r.attr }

// Pair is the corresponding local index pair.
func (r RemoteIndex) Pair() *indexset.Pair { return r.pair }

func (r RemoteIndex) String() string {
	return fmt.Sprintf("[global=%d, attr=%s]", r.pair.Global(), r.attr)
}

// Neighbour holds both directions of correspondence with one remote rank:
// Send lists local source indices the remote also holds, Recv lists local
// destination indices expected to arrive from it. At least one of the two
// is always non-empty; empty neighbours are discarded during the build.
type Neighbour struct {
	Send []RemoteIndex
	Recv []RemoteIndex
}

// CopyPair is one local same-process correspondence: the source slot and
// the destination slot of an index present in both sets.
type CopyPair struct {
	From uint32
	To   uint32
}

// Holder names a remote rank holding a copy of a global index, with the
// attribute the index has there.
type Holder struct {
	Rank int
	Attr indexset.Attribute
}

// Table is the per-process remote index table. It borrows both index sets
// and the transport; it never outlives them. All mutation goes through
// Rebuild, which fully replaces the previous contents. A single goroutine
// must drive the table, in lockstep with the same table on every other
// rank of the group.
type Table struct {
	source *indexset.Set
	dest   *indexset.Set
	tr     transport.Transport
	log    utils.Logger

	remote    map[int]*Neighbour
	copyLocal []CopyPair

	sourceSeq uint64
	destSeq   uint64

	holders  *lru.Cache[uint64, []Holder]
	roundAvg utils.AvgVal
}

type TableOpt interface {
	Apply(*Table)
}

type TableLoggerOpt struct {
	Log utils.Logger
}

func (opt *TableLoggerOpt) Apply(t *Table) {
	t.log = opt.Log
}

// New creates a table over the source and destination index sets (which
// may be the same set) and the given process group. The table is empty and
// unsynced until the first Rebuild.
func New(source, dest *indexset.Set, tr transport.Transport, opts ...TableOpt) *Table {
	t := &Table{
		source:    source,
		dest:      dest,
		tr:        tr,
		remote:    make(map[int]*Neighbour),
		sourceSeq: unsyncedSeq,
		destSeq:   unsyncedSeq,
	}
	for _, o := range opts {
		o.Apply(t)
	}
	if t.log == nil {
		t.log = utils.NewDefaultLogger(slog.LevelInfo)
	}
	t.holders, _ = lru.New[uint64, []Holder](holdersCacheSize)
	return t
}

// Rebuild recomputes the whole table: the local copy list, then (for
// groups larger than one) the ring exchange populating the per-rank lists.
// Every rank of the group must call Rebuild collectively with the same
// ignorePublic value; disagreement is an unchecked precondition violation.
// With ignorePublic set, all indices are treated as public.
func (t *Table) Rebuild(ignorePublic bool) error {
	timer := newRebuildTimer()

	t.copyLocal = buildLocal(t.source, t.dest, ignorePublic)
	t.remote = make(map[int]*Neighbour)
	t.holders.Purge()

	if t.tr.Size() > 1 {
		if err := t.buildRemote(ignorePublic); err != nil {
			rebuildCount.WithLabelValues("error").Inc()
			return err
		}
	}

	t.sourceSeq = t.source.Seq()
	t.destSeq = t.dest.Seq()

	rebuildCount.WithLabelValues("ok").Inc()
	timer.done()
	t.log.Debug("table: rebuilt", "rank", t.tr.Rank(),
		"neighbours", len(t.remote), "copy_pairs", len(t.copyLocal))
	return nil
}

// Synced reports whether the table still matches the sequence numbers of
// both index sets. It is advisory: a false result means borrowed pair
// references inside the table are dangling and Rebuild is due.
func (t *Table) Synced() bool {
	return t.sourceSeq == t.source.Seq() && t.destSeq == t.dest.Seq()
}

// Ranks lists the remote ranks with a non-empty neighbour entry, ascending.
func (t *Table) Ranks() []int {
	ranks := make([]int, 0, len(t.remote))
	for rank := range t.remote {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	return ranks
}

// Neighbour returns the entry for the given remote rank, if any.
func (t *Table) Neighbour(rank int) (*Neighbour, bool) {
	nb, ok := t.remote[rank]
	return nb, ok
}

// CopyLocal is the local same-process copy list in ascending global order.
func (t *Table) CopyLocal() []CopyPair {
	return t.copyLocal
}

// Holders answers which remote ranks hold a copy of the given global
// index, from the receive lists. Results are cached until the next
// Rebuild.
func (t *Table) Holders(global uint64) []Holder {
	if hs, ok := t.holders.Get(global); ok {
		return hs
	}
	var hs []Holder
	for _, rank := range t.Ranks() {
		for _, ri := range t.remote[rank].Recv {
			if ri.pair.Global() == global {
				hs = append(hs, Holder{Rank: rank, Attr: ri.attr})
				break
			}
		}
	}
	t.holders.Add(global, hs)
	return hs
}

// Fingerprint digests the table contents. Two rebuilds over unchanged
// index sets produce identical fingerprints.
func (t *Table) Fingerprint() uint64 {
	h := xxhash.New()
	var b [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(b[:], v)
		h.Write(b[:])
	}
	for _, cp := range t.copyLocal {
		put(uint64(cp.From)<<32 | uint64(cp.To))
	}
	for _, rank := range t.Ranks() {
		put(uint64(rank))
		nb := t.remote[rank]
		for _, list := range [][]RemoteIndex{nb.Send, nb.Recv} {
			put(uint64(len(list)))
			for _, ri := range list {
				put(ri.pair.Global())
				put(uint64(ri.attr))
			}
		}
	}
	return h.Sum64()
}

// Stats reports counters from the last exchange rounds.
type Stats struct {
	Neighbours      int
	CopyPairs       int
	AvgRoundSeconds float64
}

func (t *Table) Stats() Stats {
	return Stats{
		Neighbours:      len(t.remote),
		CopyPairs:       len(t.copyLocal),
		AvgRoundSeconds: t.roundAvg.Val(),
	}
}

func (t *Table) String() string {
	var sb strings.Builder
	rank := t.tr.Rank()
	if len(t.copyLocal) > 0 {
		fmt.Fprintf(&sb, "%d: copying local:", rank)
		for _, cp := range t.copyLocal {
			fmt.Fprintf(&sb, " %d->%d", cp.From, cp.To)
		}
		sb.WriteByte('\n')
	}
	for _, r := range t.Ranks() {
		nb := t.remote[r]
		if len(nb.Send) > 0 {
			fmt.Fprintf(&sb, "%d: process %d: send:", rank, r)
			for _, ri := range nb.Send {
				fmt.Fprintf(&sb, " %s", ri)
			}
			sb.WriteByte('\n')
		}
		if len(nb.Recv) > 0 {
			fmt.Fprintf(&sb, "%d: process %d: receive:", rank, r)
			for _, ri := range nb.Recv {
				fmt.Fprintf(&sb, " %s", ri)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
