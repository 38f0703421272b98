// SPDX-License-Identifier: MIT

// Command octreebuild builds a distributed octree over a random point
// cloud scattered across simulated ranks, entirely in one process, and
// reports the overall build time and each rank's point and block counts.
package main

import (
	"context"
	"log"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/mortontree/octree"
)

const (
	numRanks   = 8
	numPoints  = 200_000
	ncrit      = octree.NCRIT
	sampleRate = 16
	balanced   = true
)

func main() {
	prng := rand.New(rand.NewPCG(42, 42))
	log.SetFlags(log.Lmicroseconds)

	domain := octree.Domain{Origin: [3]float64{0, 0, 0}, Diameter: [3]float64{1, 1, 1}}
	shares := scatterRandomPoints(prng, domain, numPoints, numRanks)
	comms := octree.NewLocalCommunicators(numRanks)

	ts := time.Now()
	trees := make([]*octree.DistributedTree, numRanks)
	errs := make([]error, numRanks)

	wg := sync.WaitGroup{}
	for r := 0; r < numRanks; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			trees[r], errs[r] = octree.Build(context.Background(), shares[r], comms[r], octree.SampleSorter{}, ncrit, sampleRate, balanced)
		}()
	}
	wg.Wait()
	log.Printf("built %d-rank distributed tree over %d points: %v", numRanks, numPoints, time.Since(ts))

	store := octree.NewGobStore(".")
	for r, err := range errs {
		if err != nil {
			log.Printf("rank %d: Build failed: %v", r, err)
			continue
		}
		log.Printf("rank %d: %d points, %d local blocks", r, len(trees[r].Points), len(trees[r].Blocks))
		if err := store.Save(rankName(r), trees[r]); err != nil {
			log.Printf("rank %d: Save failed: %v", r, err)
		}
	}
}

func rankName(r int) string {
	return "octreebuild-rank-" + strconv.Itoa(r)
}

// scatterRandomPoints draws n points uniformly from domain and deals
// them round-robin across size ranks, simulating each rank starting
// out with an arbitrary, unsorted local share of a larger point cloud.
func scatterRandomPoints(prng *rand.Rand, domain octree.Domain, n, size int) [][]octree.Point {
	out := make([][]octree.Point, size)
	for i := 0; i < n; i++ {
		x := domain.Origin[0] + prng.Float64()*domain.Diameter[0]
		y := domain.Origin[1] + prng.Float64()*domain.Diameter[1]
		z := domain.Origin[2] + prng.Float64()*domain.Diameter[2]
		p, err := octree.NewPoint(x, y, z, uint64(i), domain)
		if err != nil {
			log.Fatalf("NewPoint: %v", err)
		}
		r := i % size
		out[r] = append(out[r], p)
	}
	return out
}
