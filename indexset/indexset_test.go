package indexset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddKeepsOrder(t *testing.T) {
	s := New()
	for _, g := range []uint64{7, 3, 11, 5, 2} {
		require.NoError(t, s.Add(g, NewLocal(uint32(g), Owner, true)))
	}
	assert.Equal(t, 5, s.Len())
	prev := uint64(0)
	for p := range s.Pairs() {
		assert.Greater(t, p.Global(), prev)
		prev = p.Global()
	}
}

func TestAddDuplicate(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(4, NewLocal(0, Owner, true)))
	assert.ErrorIs(t, s.Add(4, NewLocal(1, Border, false)), ErrDuplicate)
	assert.Equal(t, 1, s.Len())
}

func TestPublicCount(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(1, NewLocal(0, Owner, true)))
	require.NoError(t, s.Add(2, NewLocal(1, Border, false)))
	require.NoError(t, s.Add(3, NewLocal(2, Overlap, true)))
	assert.Equal(t, 2, s.PublicCount())

	require.NoError(t, s.Remove(1))
	assert.Equal(t, 1, s.PublicCount())
	require.NoError(t, s.Remove(2))
	assert.Equal(t, 1, s.PublicCount())
}

func TestSeqBumpsOnStructuralChange(t *testing.T) {
	s := New()
	seq := s.Seq()
	require.NoError(t, s.Add(1, NewLocal(0, Owner, true)))
	assert.Greater(t, s.Seq(), seq)

	seq = s.Seq()
	require.NoError(t, s.Remove(1))
	assert.Greater(t, s.Seq(), seq)

	assert.ErrorIs(t, s.Remove(1), ErrNotFound)
	assert.Equal(t, seq+1, s.Seq())
}

func TestFind(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(10, NewLocal(5, Border, true)))
	require.NoError(t, s.Add(20, NewLocal(6, Owner, false)))

	p, ok := s.Find(10)
	require.True(t, ok)
	assert.Equal(t, uint32(5), p.Local().Slot())
	assert.Equal(t, Border, p.Local().Attribute())

	_, ok = s.Find(15)
	assert.False(t, ok)
}

func TestLocalState(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(1, NewLocal(0, Owner, true)))
	p, _ := s.Find(1)
	assert.Equal(t, Valid, p.Local().State())
	p.Local().SetState(Deleted)
	p2, _ := s.Find(1)
	assert.Equal(t, Deleted, p2.Local().State())
}
