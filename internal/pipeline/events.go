package pipeline

import (
	"time"

	"github.com/MrWong99/captionflow/internal/playback"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// event is anything the orchestrator loop consumes. Results of asynchronous
// work carry the generation they were started under.
type event interface{ isEvent() }

type (
	clockTicked struct{ sig playback.Signal }

	toggled struct{ enabled bool }

	fetchCompleted struct {
		gen     uint64
		payload Payload
		err     error
		elapsed time.Duration
	}

	segmentCompleted struct {
		gen   uint64
		frags []caption.Fragment
	}

	blockCompleted struct {
		gen     uint64
		id      int
		frags   []caption.Fragment
		err     error
		elapsed time.Duration
	}

	navigationDetected struct{}

	navigationSettled struct{ seq uint64 }

	retryRequested struct{ id int }
)

func (clockTicked) isEvent()        {}
func (toggled) isEvent()            {}
func (fetchCompleted) isEvent()     {}
func (segmentCompleted) isEvent()   {}
func (blockCompleted) isEvent()     {}
func (navigationDetected) isEvent() {}
func (navigationSettled) isEvent()  {}
func (retryRequested) isEvent()     {}
