// Package pipeline drives one caption pipeline instance: fetch, parse,
// reflow or AI segmentation, block partitioning, progressive translation
// and display.
//
// The [Orchestrator] is an event-sourced state machine. Clock signals,
// results of asynchronous work and user actions are pushed through one
// ordered channel and applied by a single goroutine, so the check-then-start
// rule that keeps at most one block in translation needs no locking. Every
// asynchronous result carries the generation it was started under; results
// from an older generation (after a disable or a media change) are dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/captionflow/internal/display"
	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/internal/parse"
	"github.com/MrWong99/captionflow/internal/playback"
	"github.com/MrWong99/captionflow/internal/reflow"
	"github.com/MrWong99/captionflow/internal/schedule"
	"github.com/MrWong99/captionflow/internal/segment"
	"github.com/MrWong99/captionflow/internal/store"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// Defaults applied by [New] to zero [Config] fields.
const (
	DefaultFetchTimeout     = 10 * time.Second
	DefaultNavigationSettle = 500 * time.Millisecond
	DefaultSegmentTimeout   = 60 * time.Second
	DefaultMaxParallel      = 4
)

// Sentinel errors.
var (
	// ErrFetchTimeout is reported when the page does not deliver captions
	// within the fetch timeout.
	ErrFetchTimeout = errors.New("pipeline: timed out waiting for captions")

	// ErrInvalidPayload is reported when the page delivered a caption
	// response that could not be decoded.
	ErrInvalidPayload = errors.New("pipeline: invalid caption payload")

	// ErrAlreadyRunning is returned by a second call to [Orchestrator.Run].
	ErrAlreadyRunning = errors.New("pipeline: orchestrator already running")
)

// Status messages shown to the viewer.
const (
	msgNoCaptions   = "No captions found"
	msgFetchTimeout = "Timed out waiting for captions"
	msgInvalid      = "Invalid caption payload"
	msgNoMedia      = "No video found on this page"
	msgMountFailed  = "Could not attach caption controls to this page"
)

// Config holds the collaborators and limits of one pipeline instance.
type Config struct {
	Platform   Platform
	Source     Source
	Translator Translator
	Surface    Surface
	Settings   Settings
	Clock      playback.Clock
	Store      *store.Store

	// Tuning supplies the parser and optimizer constants.
	Tuning caption.Tuning

	// Partitioner splits the timeline into blocks. Nil means
	// [schedule.DefaultPartitioner].
	Partitioner schedule.Partitioner

	// Policy selects eligible blocks. The zero value never reschedules
	// errored blocks on its own.
	Policy schedule.Policy

	FetchTimeout     time.Duration
	NavigationSettle time.Duration
	SegmentTimeout   time.Duration

	// MaxParallel caps concurrent translate calls within one block.
	MaxParallel int
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Orchestrator is the top-level state machine of one pipeline instance.
// Its exported methods are safe for concurrent use; they only enqueue
// events for [Orchestrator.Run].
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics
	display *display.Scheduler
	bridge  *segment.Bridge

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	ctx      context.Context
	mounted  bool
	enabled  bool
	gen      uint64
	navSeq   uint64
	mediaID  string
	language string
	blocks   []caption.Block
	status   caption.Status
}

// New validates cfg, applies defaults and returns an idle Orchestrator.
// Nothing happens until [Orchestrator.Run] is called.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if cfg.Translator == nil {
		errs = append(errs, errors.New("translator is required"))
	}
	if cfg.Surface == nil {
		errs = append(errs, errors.New("surface is required"))
	}
	if cfg.Settings == nil {
		errs = append(errs, errors.New("settings are required"))
	}
	if cfg.Clock == nil {
		errs = append(errs, errors.New("clock is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Platform.MediaID == nil {
		errs = append(errs, errors.New("platform media id query is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if cfg.Partitioner == nil {
		cfg.Partitioner = schedule.DefaultPartitioner()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.NavigationSettle <= 0 {
		cfg.NavigationSettle = DefaultNavigationSettle
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = DefaultSegmentTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	cfg.Tuning = cfg.Tuning.WithDefaults()

	o := &Orchestrator{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
		events:  make(chan event, 256),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		status:  caption.Status{State: caption.StatusIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("instance", cfg.Store.Snapshot().InstanceID, "platform", cfg.Platform.Name)
	o.display = display.New(cfg.Clock, cfg.Store, display.WithLogger(o.logger))
	o.bridge = segment.NewBridge(cfg.Translator,
		segment.WithTimeout(cfg.SegmentTimeout),
		segment.WithLogger(o.logger),
		segment.WithObserver(func(elapsed time.Duration, fallback bool) {
			o.metrics.RecordSegmentation(context.Background(), elapsed, fallback)
		}),
	)
	return o, nil
}

// Run mounts the toggle, auto-starts if configured and processes events until
// ctx is cancelled. On return the pipeline is disabled and the toggle
// unmounted. Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)
	o.ctx = ctx

	unsubscribe := o.cfg.Clock.Subscribe(func(sig playback.Signal) {
		o.post(clockTicked{sig: sig})
	})
	defer unsubscribe()

	o.mount()
	for {
		select {
		case <-ctx.Done():
			o.unmount()
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// Toggle enables or disables the pipeline. It is the callback handed to the
// surface's toggle control.
func (o *Orchestrator) Toggle(enabled bool) { o.post(toggled{enabled: enabled}) }

// Enable is Toggle(true).
func (o *Orchestrator) Enable() { o.Toggle(true) }

// Disable is Toggle(false).
func (o *Orchestrator) Disable() { o.Toggle(false) }

// Navigate reports a same-page navigation. After the settle delay the media
// id is compared and the pipeline is rebuilt if it changed.
func (o *Orchestrator) Navigate() { o.post(navigationDetected{}) }

// RetryBlock schedules an errored block for translation again.
func (o *Orchestrator) RetryBlock(id int) { o.post(retryRequested{id: id}) }

// Store returns the state container the pipeline publishes to.
func (o *Orchestrator) Store() *store.Store { return o.cfg.Store }

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev := ev.(type) {
	case clockTicked:
		o.advance(ev.sig.PositionMs)
	case toggled:
		if ev.enabled {
			o.enable()
		} else {
			o.disable()
		}
	case fetchCompleted:
		o.onFetched(ev)
	case segmentCompleted:
		if o.stale(ev.gen) {
			return
		}
		o.load(ev.frags)
	case blockCompleted:
		o.onBlockDone(ev)
	case navigationDetected:
		o.navSeq++
		seq := o.navSeq
		time.AfterFunc(o.cfg.NavigationSettle, func() {
			o.post(navigationSettled{seq: seq})
		})
	case navigationSettled:
		o.onSettled(ev)
	case retryRequested:
		o.retry(ev.id)
	}
}

func (o *Orchestrator) stale(gen uint64) bool {
	if !o.enabled || gen != o.gen {
		o.logger.Debug("pipeline: dropping stale result", "gen", gen, "current_gen", o.gen)
		return true
	}
	return false
}

func (o *Orchestrator) setStatus(st caption.Status) {
	o.status = st
	o.cfg.Store.SetStatus(st)
}

// mount renders the toggle for the current media and auto-starts when the
// settings ask for it. A missing mount point leaves the pipeline inactive.
func (o *Orchestrator) mount() {
	o.mediaID = o.cfg.Platform.MediaID()
	auto := o.cfg.Settings.AutoStart()
	if err := o.cfg.Surface.MountToggle(o.cfg.Platform.ControlsSelector, auto, o.Toggle); err != nil {
		o.logger.Warn("pipeline: mount toggle", "err", err, "selector", o.cfg.Platform.ControlsSelector)
		o.cfg.Surface.Toast(msgMountFailed)
		return
	}
	o.mounted = true
	o.logger.Debug("pipeline: mounted", "media_id", o.mediaID, "auto_start", auto)
	if auto {
		o.enable()
	}
}

func (o *Orchestrator) unmount() {
	o.disable()
	o.display.Stop()
	if o.mounted {
		o.cfg.Surface.UnmountToggle()
		o.mounted = false
	}
}

func (o *Orchestrator) enable() {
	if o.enabled {
		return
	}
	if o.mediaID == "" {
		o.cfg.Surface.Toast(msgNoMedia)
		return
	}
	o.enabled = true
	o.metrics.ActivePipelines.Add(o.ctx, 1)
	o.setNativeCaptions(false)
	o.display.Start()
	o.fetch()
}

// disable restores native captions, stops display sync and forgets every
// fragment and block. In-flight work finishes on its own and is dropped.
func (o *Orchestrator) disable() {
	if !o.enabled {
		return
	}
	o.enabled = false
	o.gen++
	o.metrics.ActivePipelines.Add(context.WithoutCancel(o.ctx), -1)
	o.setNativeCaptions(true)
	o.display.Stop()
	o.display.Reset()
	o.blocks = nil
	o.cfg.Store.SetBlocks(nil)
	o.status = caption.Status{State: caption.StatusIdle}
	o.logger.Debug("pipeline: disabled", "media_id", o.mediaID)
}

func (o *Orchestrator) setNativeCaptions(visible bool) {
	if err := o.cfg.Surface.SetNativeCaptions(o.cfg.Platform.NativeCaptionSelector, visible); err != nil {
		o.logger.Warn("pipeline: set native captions", "err", err, "visible", visible)
	}
}

func (o *Orchestrator) fetch() {
	o.gen++
	gen, mediaID := o.gen, o.mediaID
	o.cfg.Store.SetMedia(mediaID, gen)
	o.setStatus(caption.Status{State: caption.StatusFetching})

	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.FetchTimeout)
		defer cancel()
		start := time.Now()
		p, err := o.cfg.Source.Fetch(ctx, mediaID)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrFetchTimeout
		}
		o.post(fetchCompleted{gen: gen, payload: p, err: err, elapsed: time.Since(start)})
	}()
}

func (o *Orchestrator) onFetched(ev fetchCompleted) {
	if o.stale(ev.gen) {
		return
	}
	p := ev.payload
	switch {
	case ev.err != nil:
	case p.DecodeErr != nil:
		ev.err = fmt.Errorf("%w: %w", ErrInvalidPayload, p.DecodeErr)
	case p.PlatformError != "":
		ev.err = fmt.Errorf("platform: %s", p.PlatformError)
	}
	if ev.err != nil {
		o.metrics.RecordFetch(o.ctx, ev.elapsed, "error")
		o.logger.Warn("pipeline: fetch captions", "err", ev.err, "media_id", o.mediaID)
		msg := "Could not load captions: " + ev.err.Error()
		switch {
		case errors.Is(ev.err, ErrFetchTimeout):
			msg = msgFetchTimeout
		case errors.Is(ev.err, ErrInvalidPayload):
			msg = msgInvalid
		}
		o.setStatus(caption.Status{State: caption.StatusFetchFailed, Message: msg})
		return
	}
	o.metrics.RecordFetch(o.ctx, ev.elapsed, "ok")
	o.setStatus(caption.Status{State: caption.StatusFetchSuccess})

	res := parse.Parse(p.Events, parse.Options{Language: p.Language, Tuning: o.cfg.Tuning})
	o.metrics.RecordParse(o.ctx, string(res.Format), len(res.Fragments))
	o.logger.Info("pipeline: captions parsed",
		"media_id", o.mediaID,
		"language", p.Language,
		"format", res.Format,
		"family", res.Family,
		"fragments", len(res.Fragments),
	)
	if len(res.Fragments) == 0 {
		o.setStatus(caption.Status{State: caption.StatusError, Message: msgNoCaptions})
		return
	}
	o.language = p.Language

	if o.cfg.Settings.AISegmentation() {
		o.setStatus(caption.Status{State: caption.StatusSegmenting})
		gen, frags, key := o.gen, res.Fragments, o.mediaID
		go func() {
			o.post(segmentCompleted{gen: gen, frags: o.bridge.Segment(o.ctx, frags, key)})
		}()
		return
	}
	opt := reflow.New(res.Family, reflow.WithTuning(o.cfg.Tuning), reflow.WithLogger(o.logger))
	o.load(opt.Optimize(res.Fragments))
}

// load installs the final timeline, partitions it and starts translating at
// the playhead.
func (o *Orchestrator) load(frags []caption.Fragment) {
	o.display.SetFragments(frags)
	o.blocks = schedule.Build(frags, o.cfg.Partitioner)
	o.cfg.Store.SetBlocks(o.blocks)
	o.setStatus(caption.Status{State: caption.StatusProcessing})
	o.logger.Debug("pipeline: timeline loaded", "fragments", len(frags), "blocks", len(o.blocks))
	o.advance(o.cfg.Clock.Now())
}

// advance starts the next block at ms unless one is already in flight.
func (o *Orchestrator) advance(ms int64) {
	if !o.enabled || len(o.blocks) == 0 || schedule.Processing(o.blocks) >= 0 {
		return
	}
	i := o.cfg.Policy.Next(o.blocks, ms)
	if i < 0 {
		if schedule.Done(o.blocks) && o.status.State == caption.StatusProcessing {
			o.setStatus(caption.Status{State: caption.StatusIdle})
		}
		return
	}
	o.start(o.blocks[i])
}

func (o *Orchestrator) start(b caption.Block) {
	o.blocks = schedule.WithState(o.blocks, b.ID, caption.BlockProcessing)
	o.cfg.Store.SetBlocks(o.blocks)
	gen, source, target := o.gen, o.language, o.cfg.Settings.TargetLanguage()
	go o.translateBlock(gen, b, source, target)
}

func (o *Orchestrator) onBlockDone(ev blockCompleted) {
	if o.stale(ev.gen) {
		return
	}
	if ev.err != nil {
		o.metrics.RecordBlock(o.ctx, ev.elapsed, "error")
		o.logger.Warn("pipeline: block translation failed", "block", ev.id, "err", ev.err)
		o.blocks = schedule.WithState(o.blocks, ev.id, caption.BlockError)
		o.cfg.Store.SetBlocks(o.blocks)
		o.setStatus(caption.Status{
			State:   caption.StatusError,
			Message: fmt.Sprintf("Translation failed for block %d", ev.id),
		})
	} else {
		o.metrics.RecordBlock(o.ctx, ev.elapsed, "ok")
		o.blocks = schedule.WithTranslations(o.blocks, ev.id, ev.frags)
		o.cfg.Store.SetBlocks(o.blocks)
		o.display.Supplement(ev.frags)
	}
	o.advance(o.cfg.Clock.Now())
}

func (o *Orchestrator) retry(id int) {
	if !o.enabled {
		return
	}
	blocks, ok := schedule.Retry(o.blocks, id)
	if !ok {
		o.logger.Debug("pipeline: retry ignored", "block", id)
		return
	}
	o.blocks = blocks
	o.cfg.Store.SetBlocks(o.blocks)
	if !hasErrors(o.blocks) {
		o.setStatus(caption.Status{State: caption.StatusProcessing})
	}
	if schedule.Processing(o.blocks) >= 0 {
		return
	}
	for _, b := range o.blocks {
		if b.ID == id {
			o.start(b)
			return
		}
	}
}

func (o *Orchestrator) onSettled(ev navigationSettled) {
	if ev.seq != o.navSeq {
		return
	}
	// The visible line is hidden on every settled navigation; it only comes
	// back when the media id is unchanged.
	o.display.Stop()
	id := o.cfg.Platform.MediaID()
	if id == o.mediaID {
		if o.enabled {
			o.display.Start()
		}
		return
	}
	o.logger.Info("pipeline: media changed", "from", o.mediaID, "to", id)
	o.unmount()
	o.cfg.Store.Reset()
	o.mount()
}

func hasErrors(blocks []caption.Block) bool {
	for _, b := range blocks {
		if b.State == caption.BlockError {
			return true
		}
	}
	return false
}
