package pipeline

import (
	"context"

	"github.com/MrWong99/captionflow/internal/segment"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// Payload is one raw caption delivery for a media item.
type Payload struct {
	// MediaID identifies the media the captions belong to.
	MediaID string

	// Language is the BCP-47 tag of the caption track.
	Language string

	// Events is the raw timed-text batch.
	Events []caption.RawEvent

	// PlatformError is the platform's own error status for the caption
	// request. A non-empty value means the delivery failed.
	PlatformError string

	// DecodeErr is set when the intercepted response arrived but could not
	// be decoded into events.
	DecodeErr error
}

// Source delivers raw caption payloads. Implementations usually ask the page
// to trigger its caption request and then wait for the intercepted response.
type Source interface {
	// Fetch blocks until captions for mediaID arrive or ctx is done.
	Fetch(ctx context.Context, mediaID string) (Payload, error)
}

// Platform describes a video site. The [Orchestrator] never branches on the
// platform name; it only uses the selectors and the media id query.
type Platform struct {
	Name                  string
	VideoSelector         string
	ContainerSelector     string
	ControlsSelector      string
	NativeCaptionSelector string
	NavigationEvent       string

	// MediaID returns the id of the media currently on the page. An empty
	// string means no media is loaded.
	MediaID func() string
}

// Surface is the page-side presentation the pipeline drives. It renders the
// caption overlay from the store on its own; these calls cover everything
// else.
type Surface interface {
	// SetNativeCaptions shows or hides the platform's own captions matched
	// by selector.
	SetNativeCaptions(selector string, visible bool) error

	// MountToggle renders the on/off control at selector. onToggle is
	// called whenever the viewer flips it.
	MountToggle(selector string, enabled bool, onToggle func(enabled bool)) error

	// UnmountToggle removes the control.
	UnmountToggle()

	// Toast shows a short-lived message.
	Toast(message string)
}

// Translator is the translation backend: one call per fragment plus the AI
// segmentation call. Batching, caching and rate limiting are its concern.
type Translator interface {
	segment.Segmenter

	// TranslateText translates text from the source language into target.
	TranslateText(ctx context.Context, text, source, target string) (string, error)
}

// Settings exposes user preferences. They are read at each decision point
// and may change between calls.
type Settings interface {
	AutoStart() bool
	AISegmentation() bool
	TargetLanguage() string
}

// StaticSettings is a fixed [Settings] value.
type StaticSettings struct {
	Auto   bool
	AI     bool
	Target string
}

var _ Settings = StaticSettings{}

func (s StaticSettings) AutoStart() bool        { return s.Auto }
func (s StaticSettings) AISegmentation() bool   { return s.AI }
func (s StaticSettings) TargetLanguage() string { return s.Target }
