package segment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/captionflow/internal/segment"
	"github.com/MrWong99/captionflow/pkg/caption"
)

const roundTripDoc = "WEBVTT\n\n1000 --> 1500\nHello world.\n\n2000 --> 3500\nLine one\nLine two\n"

type fakeSegmenter struct {
	mu    sync.Mutex
	resp  string
	err   error
	calls []fakeCall
}

type fakeCall struct {
	Doc        string
	RoutingKey string
}

func (f *fakeSegmenter) SegmentSubtitles(_ context.Context, doc, routingKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Doc: doc, RoutingKey: routingKey})
	return f.resp, f.err
}

func input() []caption.Fragment {
	return []caption.Fragment{
		{Text: "Hello", StartMs: 1000, EndMs: 1200},
		{Text: "[Music]", StartMs: 1200, EndMs: 1300},
		{Text: "world.\nagain", StartMs: 1300, EndMs: 1500},
		{Text: "â™ª â™ª", StartMs: 1500, EndMs: 1600},
	}
}

func TestDecode_RoundTripDocument(t *testing.T) {
	t.Parallel()
	got := segment.Decode(roundTripDoc)
	want := []caption.Fragment{
		{Text: "Hello world.", StartMs: 1000, EndMs: 1500},
		{Text: "Line one\nLine two", StartMs: 2000, EndMs: 3500},
	}
	if len(got) != len(want) {
		t.Fatalf("Decode = %+v, want %d cues", got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecode_Lenient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
		want int
	}{
		{name: "empty", doc: "", want: 0},
		{name: "header only", doc: "WEBVTT\n", want: 0},
		{name: "garbage", doc: "sorry, I can't help with that", want: 0},
		{name: "cue without text", doc: "0 --> 10\n\n", want: 0},
		{name: "inverted timing", doc: "10 --> 0\nx\n", want: 0},
		{name: "clock timestamps and ids", doc: "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02,500\nhi\n", want: 1},
		{name: "crlf", doc: "WEBVTT\r\n\r\n0 --> 100\r\na\r\n", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := segment.Decode(tt.doc); len(got) != tt.want {
				t.Errorf("Decode(%q) = %+v, want %d cues", tt.doc, got, tt.want)
			}
		})
	}
}

func TestIsNoise(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"[Music]", "(applause)", "♪♪", "♪ lyrics ♪", "â™ª", "（笑）", "  "} {
		if !segment.IsNoise(s) {
			t.Errorf("IsNoise(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"Hello", "[a] b", "music is great"} {
		if segment.IsNoise(s) {
			t.Errorf("IsNoise(%q) = true, want false", s)
		}
	}
}

func TestBridge_SendsCleanedRecords(t *testing.T) {
	t.Parallel()
	seg := &fakeSegmenter{resp: roundTripDoc}
	b := segment.NewBridge(seg)

	got := b.Segment(context.Background(), input(), "video-42")
	if len(got) != 2 {
		t.Fatalf("Segment = %+v, want the backend's two cues", got)
	}

	if len(seg.calls) != 1 {
		t.Fatalf("backend called %d times, want 1", len(seg.calls))
	}
	call := seg.calls[0]
	if call.RoutingKey != "video-42" {
		t.Errorf("routing key = %q, want video-42", call.RoutingKey)
	}
	var recs []segment.Record
	if err := json.Unmarshal([]byte(call.Doc), &recs); err != nil {
		t.Fatalf("doc is not a JSON record list: %v", err)
	}
	want := []segment.Record{
		{Start: 1000, End: 1200, Text: "Hello"},
		{Start: 1300, End: 1500, Text: "world. again"},
	}
	if len(recs) != len(want) {
		t.Fatalf("records = %+v, want %+v", recs, want)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Errorf("record[%d] = %+v, want %+v", i, recs[i], want[i])
		}
	}
}

func TestBridge_FallsBackSilently(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		seg  segment.Segmenter
		in   []caption.Fragment
	}{
		{name: "backend error", seg: &fakeSegmenter{err: errors.New("boom")}, in: input()},
		{name: "empty response", seg: &fakeSegmenter{resp: ""}, in: input()},
		{name: "unparseable response", seg: &fakeSegmenter{resp: "not a caption document"}, in: input()},
		{name: "nothing left after cleaning", seg: &fakeSegmenter{resp: roundTripDoc}, in: []caption.Fragment{{Text: "[Music]", EndMs: 10}}},
		{name: "no backend", seg: nil, in: input()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var fallbacks int
			b := segment.NewBridge(tt.seg, segment.WithObserver(func(_ time.Duration, fallback bool) {
				if fallback {
					fallbacks++
				}
			}))
			got := b.Segment(context.Background(), tt.in, "k")
			if len(got) != len(tt.in) {
				t.Fatalf("Segment returned %d fragments, want original %d", len(got), len(tt.in))
			}
			for i := range got {
				if got[i] != tt.in[i] {
					t.Errorf("[%d] = %+v, want unchanged %+v", i, got[i], tt.in[i])
				}
			}
			if fallbacks != 1 {
				t.Errorf("observer saw %d fallbacks, want 1", fallbacks)
			}
		})
	}
}

func TestBridge_Timeout(t *testing.T) {
	t.Parallel()
	b := segment.NewBridge(blockingSegmenter{}, segment.WithTimeout(10*time.Millisecond))
	in := input()
	got := b.Segment(context.Background(), in, "k")
	if len(got) != len(in) {
		t.Errorf("Segment after timeout = %+v, want original", got)
	}
}

type blockingSegmenter struct{}

func (blockingSegmenter) SegmentSubtitles(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
