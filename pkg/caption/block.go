package caption

// BlockState is the translation state of a [Block].
type BlockState string

const (
	BlockIdle       BlockState = "idle"
	BlockProcessing BlockState = "processing"
	BlockCompleted  BlockState = "completed"
	BlockError      BlockState = "error"
)

// Block is a contiguous run of fragments scheduled and translated as one unit.
// Blocks are created once per fetched track; State is the only field that ever
// changes, and it is replaced by building a new block rather than mutated.
type Block struct {
	ID        int        `json:"id"`
	StartMs   int64      `json:"start_ms"`
	EndMs     int64      `json:"end_ms"`
	State     BlockState `json:"state"`
	Fragments []Fragment `json:"fragments"`
}

// Contains reports whether ms lies in [StartMs, EndMs).
func (b Block) Contains(ms int64) bool {
	return ms >= b.StartMs && ms < b.EndMs
}

// StatusState is the coarse state of a pipeline instance.
type StatusState string

const (
	// StatusIdle means there is nothing to show.
	StatusIdle         StatusState = "idle"
	StatusFetching     StatusState = "fetching"
	StatusFetchSuccess StatusState = "fetch_success"
	StatusFetchFailed  StatusState = "fetch_failed"
	StatusSegmenting   StatusState = "segmenting"
	StatusProcessing   StatusState = "processing"
	StatusError        StatusState = "error"
)

// Status is the user-visible pipeline status. Message is set for failure
// states and optional otherwise.
type Status struct {
	State   StatusState `json:"state"`
	Message string      `json:"message,omitempty"`
}

// IsPersistentError reports whether s should stay visible until resolved or
// until the pipeline is disabled.
func (s Status) IsPersistentError() bool {
	return s.State == StatusError || s.State == StatusFetchFailed
}
