package parse_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/captionflow/internal/parse"
	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

func ptr[T any](v T) *T { return &v }

func seg(text string, offset int64) caption.RawSegment {
	return caption.RawSegment{Text: text, OffsetMs: ptr(offset)}
}

func trackEvent(track int, start, dur int64, text string) caption.RawEvent {
	return caption.RawEvent{
		StartMs:    start,
		DurationMs: ptr(dur),
		TrackID:    ptr(track),
		Segments:   []caption.RawSegment{{Text: text}},
	}
}

func separator(start int64) caption.RawEvent {
	return caption.RawEvent{StartMs: start, WindowID: ptr(1), IsSeparator: true}
}

func texts(frags []caption.Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Text
	}
	return out
}

func assertNormalized(t *testing.T, frags []caption.Fragment) {
	t.Helper()
	if !caption.IsNormalized(frags) {
		t.Errorf("fragments not start-sorted and non-overlapping: %+v", frags)
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		events []caption.RawEvent
		want   caption.Format
	}{
		{
			name: "empty",
			want: caption.FormatStandard,
		},
		{
			name: "karaoke shares start with distinct tracks",
			events: []caption.RawEvent{
				trackEvent(1, 0, 500, "かな"),
				trackEvent(3, 0, 500, "漢字"),
			},
			want: caption.FormatKaraoke,
		},
		{
			name: "same track twice is not karaoke",
			events: []caption.RawEvent{
				trackEvent(1, 0, 500, "a"),
				trackEvent(1, 0, 500, "b"),
			},
			want: caption.FormatStandard,
		},
		{
			name: "scrolling asr",
			events: []caption.RawEvent{
				{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{{Text: "hi"}}},
				separator(500),
			},
			want: caption.FormatScrolling,
		},
		{
			name: "separator without window is standard",
			events: []caption.RawEvent{
				{StartMs: 0, IsSeparator: true},
			},
			want: caption.FormatStandard,
		},
		{
			name: "karaoke wins over scrolling",
			events: []caption.RawEvent{
				trackEvent(1, 0, 500, "a"),
				trackEvent(2, 0, 500, "b"),
				separator(500),
			},
			want: caption.FormatKaraoke,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := parse.Detect(tt.events); got != tt.want {
				t.Errorf("Detect = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseKaraoke_MainTrackSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tracks [2]int
		want   string
	}{
		{name: "canonical track", tracks: [2]int{1, 3}, want: "track3"},
		{name: "largest track", tracks: [2]int{1, 5}, want: "track5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var events []caption.RawEvent
			for _, tr := range tt.tracks {
				text := "track1"
				if tr != 1 {
					text = tt.want
				}
				events = append(events, trackEvent(tr, 0, 1000, text))
			}
			got := parse.ParseKaraoke(events, caption.DefaultTuning())
			if len(got) != 1 || got[0].Text != tt.want {
				t.Fatalf("ParseKaraoke = %v, want [%s]", texts(got), tt.want)
			}
		})
	}
}

func TestParseKaraoke_MergesIdenticalReemissions(t *testing.T) {
	t.Parallel()
	events := []caption.RawEvent{
		trackEvent(1, 0, 500, "ignored"),
		trackEvent(3, 0, 500, "同じ"),
		trackEvent(3, 500, 500, "同じ"),
		trackEvent(3, 1000, 700, "同じ"),
		trackEvent(3, 2000, 500, "次"),
	}
	got := parse.ParseKaraoke(events, caption.DefaultTuning())
	if len(got) != 2 {
		t.Fatalf("got %d fragments (%v), want 2", len(got), texts(got))
	}
	want := caption.Fragment{Text: "同じ", StartMs: 0, EndMs: 1700}
	if got[0] != want {
		t.Errorf("merged fragment = %+v, want %+v", got[0], want)
	}
	assertNormalized(t, got)
}

func TestParseKaraoke_MergesRepeatsAcrossGaps(t *testing.T) {
	t.Parallel()
	noDuration := func(start int64, text string) caption.RawEvent {
		return caption.RawEvent{StartMs: start, TrackID: ptr(3), Segments: []caption.RawSegment{{Text: text}}}
	}
	tests := []struct {
		name   string
		events []caption.RawEvent
		want   []caption.Fragment
	}{
		{
			name: "gapped re-emissions",
			events: []caption.RawEvent{
				trackEvent(1, 0, 500, "other"),
				trackEvent(3, 0, 500, "同じ"),
				trackEvent(3, 2000, 500, "同じ"),
				trackEvent(3, 4000, 500, "同じ"),
			},
			want: []caption.Fragment{{Text: "同じ", StartMs: 0, EndMs: 4500}},
		},
		{
			name: "duration-less re-emissions",
			events: []caption.RawEvent{
				trackEvent(1, 0, 0, "other"),
				noDuration(0, "a"),
				noDuration(1500, "a"),
				noDuration(3000, "a"),
			},
			want: []caption.Fragment{{Text: "a", StartMs: 0, EndMs: 3000}},
		},
		{
			name: "different line breaks the run",
			events: []caption.RawEvent{
				trackEvent(1, 0, 500, "other"),
				trackEvent(3, 0, 500, "a"),
				trackEvent(3, 3000, 500, "b"),
				trackEvent(3, 6000, 500, "a"),
			},
			want: []caption.Fragment{
				{Text: "a", StartMs: 0, EndMs: 500},
				{Text: "b", StartMs: 3000, EndMs: 3500},
				{Text: "a", StartMs: 6000, EndMs: 6500},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parse.ParseKaraoke(tt.events, caption.DefaultTuning())
			if len(got) != len(tt.want) {
				t.Fatalf("ParseKaraoke = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			assertNormalized(t, got)
		})
	}
}

func TestParseKaraoke_CleansText(t *testing.T) {
	t.Parallel()
	events := []caption.RawEvent{
		{StartMs: 0, TrackID: ptr(3), Segments: []caption.RawSegment{{Text: "a\u200b"}, {Text: "  b "}}},
		{StartMs: 0, TrackID: ptr(1), Segments: []caption.RawSegment{{Text: "x"}}},
		{StartMs: 100, TrackID: ptr(3), Segments: []caption.RawSegment{{Text: "\u200b "}}},
	}
	got := parse.ParseKaraoke(events, caption.DefaultTuning())
	if len(got) != 1 || got[0].Text != "a b" {
		t.Fatalf("ParseKaraoke = %v, want [a b]", texts(got))
	}
	if got[0].EndMs != 0 {
		t.Errorf("EndMs = %d, want 0 for missing duration", got[0].EndMs)
	}
}

func TestParseKaraoke_OverlapFixup(t *testing.T) {
	t.Parallel()
	events := []caption.RawEvent{
		trackEvent(3, 0, 2000, "one"),
		trackEvent(1, 0, 2000, "uno"),
		trackEvent(3, 1000, 2000, "two"),
	}
	got := parse.ParseKaraoke(events, caption.DefaultTuning())
	if len(got) != 2 {
		t.Fatalf("got %v, want two fragments", texts(got))
	}
	if got[0].EndMs != 1000 {
		t.Errorf("first EndMs = %d, want clamped to 1000", got[0].EndMs)
	}
	assertNormalized(t, got)
}

func TestScrollingParser_SplitsInsideBurst(t *testing.T) {
	t.Parallel()
	p := parse.NewScrollingParser(lang.Spaced, caption.DefaultTuning())
	p.Feed(caption.RawEvent{
		StartMs:  0,
		WindowID: ptr(1),
		Segments: []caption.RawSegment{seg("This is a sentence.", 0), seg(" More", 400), seg(" text", 600)},
	})
	got := p.Fragments()
	if len(got) != 1 || got[0].Text != "This is a sentence." {
		t.Fatalf("after one burst Fragments = %v, want the first sentence only", texts(got))
	}
	p.Finish()
	got = p.Fragments()
	if want := []string{"This is a sentence.", "More text"}; !equalStrings(texts(got), want) {
		t.Fatalf("Fragments = %v, want %v", texts(got), want)
	}
	assertNormalized(t, got)
}

func TestScrollingParser_SplitsInsideSingleSegment(t *testing.T) {
	t.Parallel()
	got := parse.ParseScrolling([]caption.RawEvent{
		{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{seg("Hello there. How are you", 0)}},
	}, lang.Spaced, caption.DefaultTuning())
	if want := []string{"Hello there.", "How are you"}; !equalStrings(texts(got), want) {
		t.Fatalf("Fragments = %v, want %v", texts(got), want)
	}
	if got[0].EndMs <= got[0].StartMs {
		t.Errorf("first fragment has no duration: %+v", got[0])
	}
	assertNormalized(t, got)
}

func TestScrollingParser_FlushesOnSeparatorOnlyWhenPending(t *testing.T) {
	t.Parallel()
	p := parse.NewScrollingParser(lang.Spaced, caption.DefaultTuning())

	p.Feed(caption.RawEvent{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{seg("Hello", 0)}})
	p.Feed(separator(400))
	if got := p.Fragments(); len(got) != 0 {
		t.Fatalf("flushed without terminal punctuation: %v", texts(got))
	}

	p.Feed(caption.RawEvent{StartMs: 500, WindowID: ptr(1), Segments: []caption.RawSegment{seg("world.", 0)}})
	if got := p.Fragments(); len(got) != 0 {
		t.Fatalf("flushed before separator: %v", texts(got))
	}

	p.Feed(separator(1200))
	got := p.Fragments()
	want := caption.Fragment{Text: "Hello world.", StartMs: 0, EndMs: 1200}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("Fragments = %+v, want [%+v]", got, want)
	}
}

func TestScrollingParser_EventBoundarySpacing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		family lang.Family
		want   string
	}{
		{name: "english", family: lang.FamilyForTag("en"), want: "being honest."},
		{name: "japanese", family: lang.FamilyForTag("ja"), want: "beinghonest."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parse.ParseScrolling([]caption.RawEvent{
				{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{seg("being", 0)}},
				{StartMs: 300, WindowID: ptr(1), Segments: []caption.RawSegment{seg("honest.", 0)}},
				separator(800),
			}, tt.family, caption.DefaultTuning())
			if len(got) != 1 || got[0].Text != tt.want {
				t.Fatalf("Fragments = %v, want [%s]", texts(got), tt.want)
			}
		})
	}
}

func TestScrollingParser_DropsAnnotations(t *testing.T) {
	t.Parallel()
	got := parse.ParseScrolling([]caption.RawEvent{
		{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{seg("[Music]", 0)}},
		separator(500),
		{StartMs: 1000, WindowID: ptr(1), Segments: []caption.RawSegment{seg("Okay.", 0)}},
		separator(1500),
	}, lang.Spaced, caption.DefaultTuning())
	if want := []string{"Okay."}; !equalStrings(texts(got), want) {
		t.Fatalf("Fragments = %v, want %v", texts(got), want)
	}
}

func TestScrollingParser_MaxLengthSetsPendingSplit(t *testing.T) {
	t.Parallel()
	tun := caption.DefaultTuning()
	tun.ScrollingMaxWords = 3
	got := parse.ParseScrolling([]caption.RawEvent{
		{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{seg("one", 0), seg(" two", 100), seg(" three", 200), seg(" four", 300)}},
	}, lang.Spaced, tun)
	if want := []string{"one two three", "four"}; !equalStrings(texts(got), want) {
		t.Fatalf("Fragments = %v, want %v", texts(got), want)
	}
}

func TestParseStandard(t *testing.T) {
	t.Parallel()
	events := []caption.RawEvent{
		{StartMs: 0, DurationMs: ptr(int64(1000)), Segments: []caption.RawSegment{seg("Hello", 0), seg(" big", 300), seg(" world", 600)}},
		{StartMs: 1000, DurationMs: ptr(int64(500)), Segments: []caption.RawSegment{seg("\n", 0)}},
		{StartMs: 1500, Segments: []caption.RawSegment{seg("again", 0)}},
	}
	got := parse.ParseStandard(events, caption.DefaultTuning())
	want := []caption.Fragment{
		{Text: "Hello", StartMs: 0, EndMs: 300},
		{Text: "big", StartMs: 300, EndMs: 600},
		{Text: "world", StartMs: 600, EndMs: 1000},
		{Text: "again", StartMs: 1500, EndMs: 1700},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %d fragments", texts(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParsers_OutputsAreNormalized(t *testing.T) {
	t.Parallel()
	// Overlapping, out-of-order input.
	events := []caption.RawEvent{
		{StartMs: 900, DurationMs: ptr(int64(2000)), WindowID: ptr(1), TrackID: ptr(3), Segments: []caption.RawSegment{seg("b.", 0)}},
		{StartMs: 0, DurationMs: ptr(int64(5000)), WindowID: ptr(1), TrackID: ptr(3), Segments: []caption.RawSegment{seg("a.", 0), seg(" c", 2500)}},
		separator(3000),
		{StartMs: 100, DurationMs: ptr(int64(-50)), Segments: []caption.RawSegment{seg("d", 0)}},
	}
	tun := caption.DefaultTuning()
	assertNormalized(t, parse.ParseKaraoke(events, tun))
	assertNormalized(t, parse.ParseScrolling(events, lang.Spaced, tun))
	assertNormalized(t, parse.ParseStandard(events, tun))
}

func TestParsers_MalformedInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		events []caption.RawEvent
	}{
		{name: "empty batch"},
		{
			name: "invalid utf-8",
			events: []caption.RawEvent{
				{StartMs: 0, DurationMs: ptr(int64(1000)), WindowID: ptr(1), TrackID: ptr(3), Segments: []caption.RawSegment{seg("\xff\xfe. [x\xc3", 0)}},
				{StartMs: 0, TrackID: ptr(1), Segments: []caption.RawSegment{seg("\xc3\x28", 0)}},
				separator(1000),
			},
		},
		{
			name: "negative offsets",
			events: []caption.RawEvent{
				{StartMs: 1000, WindowID: ptr(1), TrackID: ptr(3), Segments: []caption.RawSegment{seg("late", 0), seg("early.", -5000)}},
				{StartMs: 1000, TrackID: ptr(2), Segments: []caption.RawSegment{seg("x", -1)}},
				separator(1500),
			},
		},
		{
			name: "negative durations",
			events: []caption.RawEvent{
				{StartMs: 500, DurationMs: ptr(int64(-400)), WindowID: ptr(1), TrackID: ptr(3), Segments: []caption.RawSegment{seg("one.", 0)}},
				{StartMs: 500, DurationMs: ptr(int64(-1)), TrackID: ptr(1), Segments: []caption.RawSegment{seg("uno.", 0)}},
				{StartMs: 600, DurationMs: ptr(int64(-9000)), WindowID: ptr(1), TrackID: ptr(3), Segments: []caption.RawSegment{seg("two.", 0)}},
				separator(700),
			},
		},
		{
			name: "nil segments",
			events: []caption.RawEvent{
				{StartMs: 0, WindowID: ptr(1), TrackID: ptr(3)},
				{StartMs: 0, TrackID: ptr(1), Segments: []caption.RawSegment{}},
				{StartMs: 100, Segments: []caption.RawSegment{{Text: "no offset"}}},
				separator(200),
			},
		},
	}
	tun := caption.DefaultTuning()
	parsers := map[string]func([]caption.RawEvent) []caption.Fragment{
		"karaoke":   func(evs []caption.RawEvent) []caption.Fragment { return parse.ParseKaraoke(evs, tun) },
		"scrolling": func(evs []caption.RawEvent) []caption.Fragment { return parse.ParseScrolling(evs, lang.Spaced, tun) },
		"standard":  func(evs []caption.RawEvent) []caption.Fragment { return parse.ParseStandard(evs, tun) },
	}
	for _, tt := range tests {
		for name, parseFn := range parsers {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				t.Parallel()
				got := parseFn(tt.events)
				assertNormalized(t, got)
				for _, f := range got {
					if !utf8.ValidString(f.Text) || strings.ContainsRune(f.Text, utf8.RuneError) {
						t.Errorf("fragment text %q carries invalid bytes", f.Text)
					}
					if strings.TrimSpace(f.Text) == "" {
						t.Errorf("empty fragment emitted: %+v", f)
					}
				}
			})
		}
	}
}

func TestParse_Dispatch(t *testing.T) {
	t.Parallel()
	res := parse.Parse([]caption.RawEvent{
		{StartMs: 0, WindowID: ptr(1), Segments: []caption.RawSegment{seg("こんにちは。", 0)}},
		separator(500),
	}, parse.Options{})
	if res.Format != caption.FormatScrolling {
		t.Errorf("Format = %q, want scrolling-asr", res.Format)
	}
	if res.Family != lang.Logographic {
		t.Errorf("Family = %v, want logographic from text", res.Family)
	}
	if len(res.Fragments) != 1 {
		t.Errorf("Fragments = %v, want one", texts(res.Fragments))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
