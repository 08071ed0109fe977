package schedule

import (
	"slices"

	"github.com/MrWong99/captionflow/pkg/caption"
)

// Policy decides which blocks are eligible for scheduling.
type Policy struct {
	// RetryErrored makes blocks in the error state eligible again. When false
	// an errored block is only retried through [Retry].
	RetryErrored bool
}

func (p Policy) eligible(b caption.Block) bool {
	switch b.State {
	case caption.BlockProcessing, caption.BlockCompleted:
		return false
	case caption.BlockError:
		return p.RetryErrored
	}
	return true
}

// Next returns the index of the block to translate at playback position ms:
// among eligible blocks, the one containing ms, or failing that the first one
// starting after ms. It returns -1 when nothing is left at or after ms.
func (p Policy) Next(blocks []caption.Block, ms int64) int {
	for i, b := range blocks {
		if !p.eligible(b) {
			continue
		}
		if b.Contains(ms) || b.StartMs >= ms {
			return i
		}
	}
	return -1
}

// Next is [Policy.Next] with the default policy.
func Next(blocks []caption.Block, ms int64) int {
	return Policy{}.Next(blocks, ms)
}

// Processing returns the index of the block currently being translated, or -1.
func Processing(blocks []caption.Block) int {
	return slices.IndexFunc(blocks, func(b caption.Block) bool {
		return b.State == caption.BlockProcessing
	})
}

// WithState returns a copy of blocks in which the block with the given id has
// state s. The input slice is not modified. Unknown ids return an unchanged
// copy.
func WithState(blocks []caption.Block, id int, s caption.BlockState) []caption.Block {
	out := slices.Clone(blocks)
	for i := range out {
		if out[i].ID == id {
			out[i].State = s
			break
		}
	}
	return out
}

// WithTranslations returns a copy of blocks in which block id holds frags and
// is marked completed.
func WithTranslations(blocks []caption.Block, id int, frags []caption.Fragment) []caption.Block {
	out := slices.Clone(blocks)
	for i := range out {
		if out[i].ID == id {
			out[i].State = caption.BlockCompleted
			out[i].Fragments = caption.Clone(frags)
			break
		}
	}
	return out
}

// Retry resets an errored block to idle so it is scheduled again.
func Retry(blocks []caption.Block, id int) ([]caption.Block, bool) {
	for _, b := range blocks {
		if b.ID == id && b.State == caption.BlockError {
			return WithState(blocks, id, caption.BlockIdle), true
		}
	}
	return blocks, false
}

// Done reports whether no block is idle or processing.
func Done(blocks []caption.Block) bool {
	for _, b := range blocks {
		if b.State == caption.BlockIdle || b.State == caption.BlockProcessing {
			return false
		}
	}
	return true
}
