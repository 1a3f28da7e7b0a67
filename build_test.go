package overlap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spmdkit/overlap/indexset"
	"github.com/spmdkit/overlap/wire"
)

func makeSet(t *testing.T, globals []uint64, attr indexset.Attribute, public bool) *indexset.Set {
	t.Helper()
	set := indexset.New()
	for i, g := range globals {
		require.NoError(t, set.Add(g, indexset.NewLocal(uint32(i), attr, public)))
	}
	return set
}

func TestBuildLocalIntersection(t *testing.T) {
	source := makeSet(t, []uint64{1, 3, 5, 7, 9}, indexset.Owner, true)
	dest := makeSet(t, []uint64{2, 3, 4, 7, 10}, indexset.Overlap, true)

	pairs := buildLocal(source, dest, false)
	// globals 3 and 7: source slots 1,3 -> dest slots 1,3
	require.Len(t, pairs, 2)
	assert.Equal(t, CopyPair{From: 1, To: 1}, pairs[0])
	assert.Equal(t, CopyPair{From: 3, To: 3}, pairs[1])
}

func TestBuildLocalVisibility(t *testing.T) {
	source := indexset.New()
	require.NoError(t, source.Add(1, indexset.NewLocal(0, indexset.Owner, true)))
	require.NoError(t, source.Add(2, indexset.NewLocal(1, indexset.Owner, false)))
	dest := indexset.New()
	require.NoError(t, dest.Add(1, indexset.NewLocal(0, indexset.Overlap, true)))
	require.NoError(t, dest.Add(2, indexset.NewLocal(1, indexset.Overlap, true)))

	pairs := buildLocal(source, dest, false)
	require.Len(t, pairs, 1)
	assert.Equal(t, CopyPair{From: 0, To: 0}, pairs[0])

	// ignoring visibility picks up the non-public entry too
	pairs = buildLocal(source, dest, true)
	assert.Len(t, pairs, 2)
}

func TestBuildLocalDisjoint(t *testing.T) {
	source := makeSet(t, []uint64{1, 2, 3}, indexset.Owner, true)
	dest := makeSet(t, []uint64{4, 5, 6}, indexset.Overlap, true)
	assert.Empty(t, buildLocal(source, dest, false))
}

func packSet(t *testing.T, set *indexset.Set, ignorePublic bool) []byte {
	t.Helper()
	buf := make([]byte, set.Len()*wire.RecordSize)
	cursor := 0
	require.NoError(t, packEntries(buf, &cursor, set, ignorePublic))
	return buf[:cursor]
}

func TestUnpackMatchDropsUnknown(t *testing.T) {
	remote := makeSet(t, []uint64{2, 3, 4, 8}, indexset.Overlap, true)
	local := makeSet(t, []uint64{1, 3, 8, 9}, indexset.Owner, true)

	buf := packSet(t, remote, false)
	cursor := 0
	list, err := unpackMatch(buf, &cursor, remote.Len(), publishedPairs(local, false, local.PublicCount()))
	require.NoError(t, err)

	// 3 and 8 match; 2 and 4 are silently dropped
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[0].Pair().Global())
	assert.Equal(t, uint64(8), list[1].Pair().Global())
	for _, ri := range list {
		assert.Equal(t, indexset.Overlap, ri.Attribute())
		assert.Equal(t, indexset.Owner, ri.Pair().Local().Attribute())
	}
	// the full block was consumed regardless of matches
	assert.Equal(t, len(buf), cursor)
}

func TestUnpackMatchLocalExhausted(t *testing.T) {
	remote := makeSet(t, []uint64{5, 6, 7}, indexset.Border, true)
	local := makeSet(t, []uint64{5}, indexset.Owner, true)

	buf := packSet(t, remote, false)
	cursor := 0
	list, err := unpackMatch(buf, &cursor, remote.Len(), publishedPairs(local, false, 1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, len(buf), cursor)
}
