package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/captionflow/pkg/caption"
)

// Wire names a payload encoding accepted by [Decode].
type Wire string

const (
	// WireJSON3 is the timedtext json3 document used by the large video
	// platforms: {"events":[{"tStartMs":..,"segs":[{"utf8":..}]}]}.
	WireJSON3 Wire = "json3"

	// WireEvents is a JSON array of [caption.RawEvent].
	WireEvents Wire = "events"
)

// ErrUnknownWire is returned by [Decode] for an unsupported wire name.
var ErrUnknownWire = errors.New("parse: unknown wire format")

type json3Doc struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	TStartMs    int64       `json:"tStartMs"`
	DDurationMs *int64      `json:"dDurationMs"`
	WWinID      *int        `json:"wWinId"`
	WpWinPosID  *int        `json:"wpWinPosId"`
	AAppend     int         `json:"aAppend"`
	Segs        []json3Segs `json:"segs"`
}

type json3Segs struct {
	UTF8      string `json:"utf8"`
	TOffsetMs *int64 `json:"tOffsetMs"`
}

// Decode decodes a raw caption payload. An empty wire name sniffs the
// payload: a JSON array is [WireEvents], anything else [WireJSON3].
// Unknown fields are ignored.
func Decode(wire Wire, payload []byte) ([]caption.RawEvent, error) {
	if wire == "" {
		wire = WireJSON3
		if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '[' {
			wire = WireEvents
		}
	}
	switch wire {
	case WireJSON3:
		return DecodeJSON3(payload)
	case WireEvents:
		var events []caption.RawEvent
		if err := json.Unmarshal(payload, &events); err != nil {
			return nil, fmt.Errorf("parse: decode events: %w", err)
		}
		return events, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownWire, wire)
}

// DecodeJSON3 maps a json3 document onto raw events. The window position id
// distinguishes simultaneously rendered tracks; append events (aAppend=1)
// are the scrolling-ASR line separators.
func DecodeJSON3(payload []byte) ([]caption.RawEvent, error) {
	var doc json3Doc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse: decode json3: %w", err)
	}
	events := make([]caption.RawEvent, 0, len(doc.Events))
	for _, je := range doc.Events {
		ev := caption.RawEvent{
			StartMs:     je.TStartMs,
			DurationMs:  je.DDurationMs,
			TrackID:     je.WpWinPosID,
			WindowID:    je.WWinID,
			IsSeparator: je.AAppend == 1,
		}
		for _, s := range je.Segs {
			ev.Segments = append(ev.Segments, caption.RawSegment{Text: s.UTF8, OffsetMs: s.TOffsetMs})
		}
		events = append(events, ev)
	}
	return events, nil
}
