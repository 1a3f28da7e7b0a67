// Command overlap-demo runs an in-process SPMD group where each rank owns a
// contiguous strip of a 1-D index space plus a halo shared with its
// neighbours, builds the remote index table on every rank, and prints the
// resulting correspondence.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spmdkit/overlap"
	"github.com/spmdkit/overlap/indexset"
	"github.com/spmdkit/overlap/transport"
	"github.com/spmdkit/overlap/utils"
)

func buildStrip(rank, ranks, span, halo int) (*indexset.Set, error) {
	set := indexset.New()
	lo := rank*span - halo
	hi := (rank+1)*span + halo
	if lo < 0 {
		lo = 0
	}
	if top := ranks * span; hi > top {
		hi = top
	}
	slot := uint32(0)
	for g := lo; g < hi; g++ {
		core := g >= rank*span && g < (rank+1)*span
		attr := indexset.Owner
		if !core {
			attr = indexset.Overlap
		}
		// entries within halo reach of a strip boundary are visible to
		// the neighbouring ranks
		public := g < rank*span+halo || g >= (rank+1)*span-halo
		if err := set.Add(uint64(g), indexset.NewLocal(slot, attr, public)); err != nil {
			return nil, err
		}
		slot++
	}
	return set, nil
}

func main() {
	ranks := flag.Int("ranks", 4, "number of simulated ranks")
	span := flag.Int("span", 8, "indices owned per rank")
	halo := flag.Int("halo", 2, "halo width shared with neighbours")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := utils.NewDefaultLogger(level)

	group := transport.NewGroup(*ranks)
	tables := make([]*overlap.Table, *ranks)

	var wg sync.WaitGroup
	errs := make(chan error, *ranks)
	for rank := 0; rank < *ranks; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			set, err := buildStrip(rank, *ranks, *span, *halo)
			if err != nil {
				errs <- fmt.Errorf("rank %d: %w", rank, err)
				return
			}
			t := overlap.New(set, set, group[rank], &overlap.TableLoggerOpt{Log: log})
			if err := t.Rebuild(false); err != nil {
				errs <- fmt.Errorf("rank %d: %w", rank, err)
				return
			}
			tables[rank] = t
		}(rank)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		log.Error("demo failed", "err", err)
		os.Exit(1)
	}

	for rank, t := range tables {
		fmt.Print(t.String())
		stats := t.Stats()
		log.Info("table built", "rank", rank,
			"neighbours", stats.Neighbours,
			"avg_round_s", stats.AvgRoundSeconds)
	}
}
