package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/captionflow/internal/pipeline"
)

// Outbound message types sent to the page.
const (
	MsgCaption        = "caption"
	MsgStatus         = "status"
	MsgNativeCaptions = "native_captions"
	MsgMountToggle    = "mount_toggle"
	MsgToast          = "toast"
	MsgFetch          = "fetch"
)

// outboxSize bounds queued messages for a page that is not reading.
const outboxSize = 128

var (
	// ErrPageClosed is returned when the page connection has gone away.
	ErrPageClosed = errors.New("session: page closed")

	// ErrUnexpectedPayload is returned by [Page.Deliver] when no fetch is
	// waiting for the payload's media id.
	ErrUnexpectedPayload = errors.New("session: no pending fetch for media")
)

// Message is one daemon-to-page instruction. Only the fields relevant to
// Type are set.
type Message struct {
	Type     string `json:"type"`
	MediaID  string `json:"media_id,omitempty"`
	Selector string `json:"selector,omitempty"`
	Visible  *bool  `json:"visible,omitempty"`
	Mounted  *bool  `json:"mounted,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Text     string `json:"text,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Page is the daemon's view of one browser tab. It implements the pipeline's
// [pipeline.Source] and [pipeline.Surface] by queuing [Message] values for
// the transport and by waiting on payloads the transport delivers.
type Page struct {
	logger *slog.Logger

	mu       sync.Mutex
	mediaID  string
	onToggle func(bool)
	waiters  map[string][]chan pipeline.Payload
	attached bool
	closed   bool

	out chan Message
}

var (
	_ pipeline.Source  = (*Page)(nil)
	_ pipeline.Surface = (*Page)(nil)
)

func newPage(mediaID string, logger *slog.Logger) *Page {
	return &Page{
		logger:  logger,
		mediaID: mediaID,
		waiters: make(map[string][]chan pipeline.Payload),
		out:     make(chan Message, outboxSize),
	}
}

// Outbox returns the queue of messages for the page. It is closed when the
// session closes.
func (p *Page) Outbox() <-chan Message { return p.out }

// Attach claims the page for one transport connection. It reports false if
// another connection holds it. release gives the claim back.
func (p *Page) Attach() (release func(), ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached || p.closed {
		return nil, false
	}
	p.attached = true
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.attached = false
	}, true
}

// MediaID returns the id of the media the page last reported.
func (p *Page) MediaID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaID
}

// SetMediaID records the page's current media id.
func (p *Page) SetMediaID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mediaID = id
}

// Fetch implements [pipeline.Source]. It asks the page to trigger its
// caption request and waits for [Page.Deliver].
func (p *Page) Fetch(ctx context.Context, mediaID string) (pipeline.Payload, error) {
	ch := make(chan pipeline.Payload, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return pipeline.Payload{}, ErrPageClosed
	}
	p.waiters[mediaID] = append(p.waiters[mediaID], ch)
	p.mu.Unlock()
	defer p.dropWaiter(mediaID, ch)

	p.send(Message{Type: MsgFetch, MediaID: mediaID})

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return pipeline.Payload{}, ctx.Err()
	}
}

// Deliver hands an intercepted caption payload to the fetches waiting for
// its media id.
func (p *Page) Deliver(payload pipeline.Payload) error {
	p.mu.Lock()
	waiting := p.waiters[payload.MediaID]
	delete(p.waiters, payload.MediaID)
	p.mu.Unlock()

	if len(waiting) == 0 {
		return ErrUnexpectedPayload
	}
	for _, ch := range waiting {
		ch <- payload
	}
	return nil
}

func (p *Page) dropWaiter(mediaID string, ch chan pipeline.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := p.waiters[mediaID]
	for i, w := range ws {
		if w == ch {
			ws = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(p.waiters, mediaID)
	} else {
		p.waiters[mediaID] = ws
	}
}

// SetNativeCaptions implements [pipeline.Surface].
func (p *Page) SetNativeCaptions(selector string, visible bool) error {
	if !p.send(Message{Type: MsgNativeCaptions, Selector: selector, Visible: &visible}) {
		return ErrPageClosed
	}
	return nil
}

// MountToggle implements [pipeline.Surface].
func (p *Page) MountToggle(selector string, enabled bool, onToggle func(bool)) error {
	if selector == "" {
		return errors.New("session: no controls selector for this platform")
	}
	p.mu.Lock()
	p.onToggle = onToggle
	p.mu.Unlock()
	mounted := true
	if !p.send(Message{Type: MsgMountToggle, Selector: selector, Mounted: &mounted, Enabled: &enabled}) {
		return ErrPageClosed
	}
	return nil
}

// UnmountToggle implements [pipeline.Surface].
func (p *Page) UnmountToggle() {
	p.mu.Lock()
	p.onToggle = nil
	p.mu.Unlock()
	mounted := false
	p.send(Message{Type: MsgMountToggle, Mounted: &mounted})
}

// Toast implements [pipeline.Surface].
func (p *Page) Toast(message string) {
	p.send(Message{Type: MsgToast, Text: message})
}

// Toggle forwards the viewer flipping the mounted control. It reports false
// when no control is mounted.
func (p *Page) Toggle(enabled bool) bool {
	p.mu.Lock()
	fn := p.onToggle
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(enabled)
	return true
}

// Send queues msg for the page. It reports false if the page is closed or
// the queue is full, in which case msg is dropped.
func (p *Page) Send(msg Message) bool { return p.send(msg) }

func (p *Page) send(msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.out <- msg:
		return true
	default:
		p.logger.Warn("session: page outbox full, dropping message", "type", msg.Type)
		return false
	}
}

func (p *Page) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.onToggle = nil
	close(p.out)
}
