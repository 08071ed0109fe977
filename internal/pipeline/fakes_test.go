package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/captionflow/internal/pipeline"
	"github.com/MrWong99/captionflow/internal/playback"
	"github.com/MrWong99/captionflow/internal/schedule"
	"github.com/MrWong99/captionflow/internal/store"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// ─── source ──────────────────────────────────────────────────────────────────

type fakeSource struct {
	mu       sync.Mutex
	payloads map[string]pipeline.Payload
	calls    []string
}

func (s *fakeSource) Fetch(ctx context.Context, mediaID string) (pipeline.Payload, error) {
	s.mu.Lock()
	s.calls = append(s.calls, mediaID)
	p, ok := s.payloads[mediaID]
	s.mu.Unlock()
	if !ok {
		<-ctx.Done()
		return pipeline.Payload{}, ctx.Err()
	}
	return p, nil
}

func (s *fakeSource) set(mediaID string, p pipeline.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payloads == nil {
		s.payloads = make(map[string]pipeline.Payload)
	}
	s.payloads[mediaID] = p
}

func (s *fakeSource) fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ─── surface ─────────────────────────────────────────────────────────────────

type fakeSurface struct {
	mu       sync.Mutex
	mountErr error
	native   []bool
	mounts   int
	unmounts int
	onToggle func(bool)
	toasts   []string
}

func (s *fakeSurface) SetNativeCaptions(_ string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.native = append(s.native, visible)
	return nil
}

func (s *fakeSurface) MountToggle(_ string, _ bool, onToggle func(bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mountErr != nil {
		return s.mountErr
	}
	s.mounts++
	s.onToggle = onToggle
	return nil
}

func (s *fakeSurface) UnmountToggle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unmounts++
	s.onToggle = nil
}

func (s *fakeSurface) Toast(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, msg)
}

// nativeVisible returns the last native caption visibility set, and whether
// any was set at all.
func (s *fakeSurface) nativeVisible() (visible, set bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.native) == 0 {
		return false, false
	}
	return s.native[len(s.native)-1], true
}

func (s *fakeSurface) toggle(enabled bool) {
	s.mu.Lock()
	fn := s.onToggle
	s.mu.Unlock()
	if fn != nil {
		fn(enabled)
	}
}

func (s *fakeSurface) counts() (mounts, unmounts, toasts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounts, s.unmounts, len(s.toasts)
}

// ─── translator ──────────────────────────────────────────────────────────────

type fakeTranslator struct {
	mu         sync.Mutex
	fail       map[string]bool
	gate       chan struct{}
	calls      []string
	segDoc     string
	segErr     error
	segRequest []string
}

func (f *fakeTranslator) TranslateText(ctx context.Context, text, _, target string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	gate, fail := f.gate, f.fail[text]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("backend unavailable")
	}
	return "[" + target + "] " + text, nil
}

func (f *fakeTranslator) SegmentSubtitles(_ context.Context, doc, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segRequest = append(f.segRequest, doc)
	return f.segDoc, f.segErr
}

func (f *fakeTranslator) setFail(text string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]bool)
	}
	f.fail[text] = fail
}

func (f *fakeTranslator) segmentCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.segRequest)
}

func (f *fakeTranslator) translated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ─── media id ────────────────────────────────────────────────────────────────

type mediaBox struct {
	mu sync.Mutex
	id string
}

func (m *mediaBox) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *mediaBox) set(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
}

// ─── status recorder ─────────────────────────────────────────────────────────

type statusLog struct {
	mu            sync.Mutex
	states        []caption.StatusState
	maxProcessing int
}

func (l *statusLog) record(c store.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch c.Topic {
	case store.TopicStatus:
		l.states = append(l.states, c.Snapshot.Status.State)
	case store.TopicBlocks:
		n := 0
		for _, b := range c.Snapshot.Blocks {
			if b.State == caption.BlockProcessing {
				n++
			}
		}
		l.maxProcessing = max(l.maxProcessing, n)
	}
}

func (l *statusLog) peakProcessing() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxProcessing
}

func (l *statusLog) all() []caption.StatusState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]caption.StatusState(nil), l.states...)
}

// ─── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	orch   *pipeline.Orchestrator
	clock  *playback.Feed
	store  *store.Store
	source *fakeSource
	surf   *fakeSurface
	tr     *fakeTranslator
	media  *mediaBox
	log    *statusLog
}

type harnessOpts struct {
	settings pipeline.StaticSettings
	surface  *fakeSurface
	tr       *fakeTranslator
	payloads map[string]pipeline.Payload
	config   func(*pipeline.Config)
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	h := &harness{
		clock:  playback.NewFeed(),
		store:  store.New("test"),
		source: &fakeSource{},
		surf:   opts.surface,
		tr:     opts.tr,
		media:  &mediaBox{id: "vid1"},
		log:    &statusLog{},
	}
	if h.surf == nil {
		h.surf = &fakeSurface{}
	}
	if h.tr == nil {
		h.tr = &fakeTranslator{}
	}
	for id, p := range opts.payloads {
		h.source.set(id, p)
	}
	if opts.settings.Target == "" {
		opts.settings.Target = "de"
	}
	h.store.Subscribe(h.log.record)

	cfg := pipeline.Config{
		Platform: pipeline.Platform{
			Name:                  "test",
			ControlsSelector:      ".controls",
			NativeCaptionSelector: ".captions",
			MediaID:               h.media.get,
		},
		Source:           h.source,
		Translator:       h.tr,
		Surface:          h.surf,
		Settings:         opts.settings,
		Clock:            h.clock,
		Store:            h.store,
		Partitioner:      schedule.DurationPartitioner{MaxFragments: 1},
		NavigationSettle: 10 * time.Millisecond,
	}
	if opts.config != nil {
		opts.config(&cfg)
	}
	orch, err := pipeline.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) blockStates() []caption.BlockState {
	snap := h.store.Snapshot()
	out := make([]caption.BlockState, len(snap.Blocks))
	for i, b := range snap.Blocks {
		out[i] = b.State
	}
	return out
}

func (h *harness) waitBlocks(t *testing.T, want ...caption.BlockState) {
	t.Helper()
	waitFor(t, "block states", func() bool {
		got := h.blockStates()
		if len(got) != len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	})
}

func (h *harness) waitStatus(t *testing.T, want caption.StatusState) caption.Status {
	t.Helper()
	var st caption.Status
	waitFor(t, "status "+string(want), func() bool {
		st = h.store.Snapshot().Status
		return st.State == want
	})
	return st
}
