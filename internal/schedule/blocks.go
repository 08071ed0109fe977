// Package schedule partitions a fragment timeline into translation blocks and
// picks the block to translate next given the playback position.
//
// Scheduling is just-in-time: the next block is the first eligible block at
// or after the playhead, so translation follows the viewer, including seeks.
// All functions are pure; block state changes return a new slice.
package schedule

import (
	"time"

	"github.com/MrWong99/captionflow/pkg/caption"
)

// Partitioner splits a normalized fragment timeline into ordered runs. Every
// input fragment must appear in exactly one run, in the original order.
type Partitioner interface {
	Partition(frags []caption.Fragment) [][]caption.Fragment
}

// PartitionFunc adapts a plain function to [Partitioner].
type PartitionFunc func(frags []caption.Fragment) [][]caption.Fragment

// Partition implements [Partitioner].
func (f PartitionFunc) Partition(frags []caption.Fragment) [][]caption.Fragment {
	return f(frags)
}

// DurationPartitioner closes a block when adding the next fragment would make
// it span more than MaxDuration, hold more than MaxFragments, or when the
// silence before the next fragment exceeds MaxGap. Zero limits are ignored.
type DurationPartitioner struct {
	MaxDuration  time.Duration
	MaxFragments int
	MaxGap       time.Duration
}

// Default block limits.
const (
	DefaultBlockDuration  = 60 * time.Second
	DefaultBlockFragments = 40
	DefaultBlockGap       = 10 * time.Second
)

// DefaultPartitioner returns a [DurationPartitioner] with the default limits.
func DefaultPartitioner() DurationPartitioner {
	return DurationPartitioner{
		MaxDuration:  DefaultBlockDuration,
		MaxFragments: DefaultBlockFragments,
		MaxGap:       DefaultBlockGap,
	}
}

// Partition implements [Partitioner].
func (p DurationPartitioner) Partition(frags []caption.Fragment) [][]caption.Fragment {
	var (
		runs [][]caption.Fragment
		cur  []caption.Fragment
	)
	maxDur := p.MaxDuration.Milliseconds()
	maxGap := p.MaxGap.Milliseconds()
	for _, f := range frags {
		if len(cur) > 0 {
			first, last := cur[0], cur[len(cur)-1]
			if (maxDur > 0 && f.EndMs-first.StartMs > maxDur) ||
				(p.MaxFragments > 0 && len(cur) >= p.MaxFragments) ||
				(maxGap > 0 && f.StartMs-last.EndMs > maxGap) {
				runs = append(runs, cur)
				cur = nil
			}
		}
		cur = append(cur, f)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// Build partitions frags with p and returns idle blocks numbered from 0. A
// block spans from its first fragment's start to its last fragment's end.
// Empty runs returned by a custom partitioner are skipped.
func Build(frags []caption.Fragment, p Partitioner) []caption.Block {
	if p == nil {
		p = DefaultPartitioner()
	}
	var blocks []caption.Block
	for _, run := range p.Partition(frags) {
		if len(run) == 0 {
			continue
		}
		blocks = append(blocks, caption.Block{
			ID:        len(blocks),
			StartMs:   run[0].StartMs,
			EndMs:     run[len(run)-1].EndMs,
			State:     caption.BlockIdle,
			Fragments: caption.Clone(run),
		})
	}
	return blocks
}
