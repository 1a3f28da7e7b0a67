package overlap

import (
	"fmt"
	"time"

	"github.com/spmdkit/overlap/wire"
)

// buildRemote runs the ring exchange: size-1 rounds in which every rank
// hands the payload it last received to its ring successor while taking a
// new one from its predecessor, so each rank sees every other rank's
// published records exactly once. Even ranks send first, odd ranks receive
// first; with fully synchronous transports that breaks the cycle that
// would otherwise deadlock the ring.
//
// Transport errors abort the build: after a failed round the ring cannot
// be resynchronized, so there is no retry.
func (t *Table) buildRemote(ignorePublic bool) error {
	rank, procs := t.tr.Rank(), t.tr.Size()

	// One record block is published when source and destination are the
	// same set; two otherwise.
	sendTwo := t.source != t.dest

	sourcePublish := publishCount(t.source, ignorePublic)
	destPublish := 0
	if sendTwo {
		destPublish = publishCount(t.dest, ignorePublic)
	}

	maxPublish, err := t.tr.AllReduceMax(sourcePublish + destPublish)
	if err != nil {
		return fmt.Errorf("overlap: sizing allreduce: %w", err)
	}

	sourcePairs := publishedPairs(t.source, ignorePublic, sourcePublish)
	destPairs := sourcePairs
	if sendTwo {
		destPairs = publishedPairs(t.dest, ignorePublic, destPublish)
	}

	bufferSize := t.tr.PackedSize(maxPublish) + wire.HeaderSize
	buffers := [2][]byte{make([]byte, bufferSize), make([]byte, bufferSize)}

	succ := (rank + 1) % procs
	pred := (rank + procs - 1) % procs

	var outLen int
	for round := 1; round < procs; round++ {
		// Buffers alternate roles by round parity, so the payload
		// received this round relays unharmed next round.
		out := buffers[1-(round%2)]
		in := buffers[round%2]

		if round == 1 {
			cursor := 0
			if err := wire.AppendPayloadHeader(out, &cursor, sendTwo, sourcePublish, destPublish); err != nil {
				return fmt.Errorf("overlap: packing payload header: %w", err)
			}
			if err := packEntries(out, &cursor, t.source, ignorePublic); err != nil {
				return fmt.Errorf("overlap: packing source entries: %w", err)
			}
			if sendTwo {
				if err := packEntries(out, &cursor, t.dest, ignorePublic); err != nil {
					return fmt.Errorf("overlap: packing dest entries: %w", err)
				}
			}
			outLen = cursor
		}

		start := time.Now()
		var n int
		if rank%2 == 0 {
			if err := t.tr.Send(out[:outLen], succ, commTag); err != nil {
				return fmt.Errorf("overlap: round %d send: %w", round, err)
			}
			if n, err = t.tr.Recv(in, pred, commTag); err != nil {
				return fmt.Errorf("overlap: round %d recv: %w", round, err)
			}
		} else {
			if n, err = t.tr.Recv(in, pred, commTag); err != nil {
				return fmt.Errorf("overlap: round %d recv: %w", round, err)
			}
			if err := t.tr.Send(out[:outLen], succ, commTag); err != nil {
				return fmt.Errorf("overlap: round %d send: %w", round, err)
			}
		}
		roundCount.Inc()
		exchangeBytes.WithLabelValues("out").Add(float64(outLen))
		exchangeBytes.WithLabelValues("in").Add(float64(n))
		t.roundAvg.Add(time.Since(start).Seconds())

		// The rank whose records arrived this round.
		origin := (rank + procs - round) % procs

		cursor := 0
		twoSets, originSource, originDest, err := wire.TakePayloadHeader(in[:n], &cursor)
		if err != nil {
			return fmt.Errorf("overlap: round %d payload header: %w", round, err)
		}

		// The origin's source records match our destination entries:
		// that is what we will receive from it.
		recv, err := unpackMatch(in[:n], &cursor, originSource, destPairs)
		if err != nil {
			return fmt.Errorf("overlap: round %d unpacking receive block: %w", round, err)
		}
		var send []RemoteIndex
		if twoSets || sendTwo {
			if send, err = unpackMatch(in[:n], &cursor, originDest, sourcePairs); err != nil {
				return fmt.Errorf("overlap: round %d unpacking send block: %w", round, err)
			}
		} else {
			send = recv
		}

		if len(send) > 0 || len(recv) > 0 {
			t.remote[origin] = &Neighbour{Send: send, Recv: recv}
		}

		// Relay the complete received payload next round.
		outLen = n
	}
	return nil
}
