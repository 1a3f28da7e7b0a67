package overlap

import (
	"github.com/spmdkit/overlap/indexset"
	"github.com/spmdkit/overlap/wire"
)

// buildLocal runs a sorted merge-join over the two index sets, keyed by
// global index, and emits a (source slot, dest slot) copy pair for every
// global present in both. Unless ignorePublic is set, both entries must be
// public to match. Unmatched entries on either side are skipped, never an
// error.
func buildLocal(source, dest *indexset.Set, ignorePublic bool) []CopyPair {
	var pairs []CopyPair
	si, di := 0, 0
	for si < source.Len() && di < dest.Len() {
		sp, dp := source.At(si), dest.At(di)
		if dp.Global() == sp.Global() &&
			(ignorePublic || (dp.Local().IsPublic() && sp.Local().IsPublic())) {
			pairs = append(pairs, CopyPair{From: sp.Local().Slot(), To: dp.Local().Slot()})
			si++
			di++
		} else if dp.Global() < sp.Global() {
			di++
		} else {
			si++
		}
	}
	return pairs
}

// publishCount is how many entries of the set this rank publishes.
func publishCount(set *indexset.Set, ignorePublic bool) int {
	if ignorePublic {
		return set.Len()
	}
	return set.PublicCount()
}

// publishedPairs collects borrowed references to the published entries, in
// ascending global order. The matching scan walks this array in step with
// the incoming records.
func publishedPairs(set *indexset.Set, ignorePublic bool, count int) []*indexset.Pair {
	pairs := make([]*indexset.Pair, 0, count)
	for p := range set.Pairs() {
		if ignorePublic || p.Local().IsPublic() {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// packEntries serializes the published entries of the set at *cursor. An
// overflow here means the allreduce sizing went wrong and is fatal.
func packEntries(buf []byte, cursor *int, set *indexset.Set, ignorePublic bool) error {
	for p := range set.Pairs() {
		if !ignorePublic && !p.Local().IsPublic() {
			continue
		}
		if err := wire.AppendRecord(buf, cursor, p); err != nil {
			return err
		}
	}
	return nil
}

// unpackMatch decodes count incoming records while merge-scanning the local
// published pairs, emitting a RemoteIndex for every global held on both
// sides. The emitted attribute is the remote one; the referenced pair is
// local. Remote records with no local counterpart are consumed and
// silently dropped: a rank only tracks remote copies of indices it holds
// itself.
func unpackMatch(buf []byte, cursor *int, count int, local []*indexset.Pair) ([]RemoteIndex, error) {
	var list []RemoteIndex
	li := 0
	for i := 0; i < count; i++ {
		global, lx, err := wire.TakeRecord(buf, cursor)
		if err != nil {
			return nil, err
		}
		for li < len(local) && local[li].Global() < global {
			li++
		}
		if li < len(local) && local[li].Global() == global {
			list = append(list, RemoteIndex{attr: lx.Attribute(), pair: local[li]})
			li++
			matchedRecords.Inc()
		} else {
			droppedRecords.Inc()
		}
	}
	return list, nil
}
