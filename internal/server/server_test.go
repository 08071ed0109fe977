package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/captionflow/internal/pipeline"
	"github.com/MrWong99/captionflow/internal/server"
	"github.com/MrWong99/captionflow/internal/session"
)

type echoTranslator struct{}

func (echoTranslator) TranslateText(_ context.Context, text, _, target string) (string, error) {
	return "[" + target + "] " + text, nil
}

func (echoTranslator) SegmentSubtitles(context.Context, string, string) (string, error) {
	return "", errors.New("not supported")
}

func newTestServer(t *testing.T, opts ...server.Option) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(func(platform string) (pipeline.Config, error) {
		if platform != "youtube" {
			return pipeline.Config{}, errors.New("unknown platform " + platform)
		}
		return pipeline.Config{
			Platform: pipeline.Platform{
				Name:                  platform,
				ControlsSelector:      ".ytp-right-controls",
				NativeCaptionSelector: ".ytp-caption-window-container",
			},
			Translator: echoTranslator{},
			Settings:   pipeline.StaticSettings{Target: "de"},
		}, nil
	})
	ts := httptest.NewServer(server.New(reg, opts...))
	t.Cleanup(func() {
		ts.Close()
		reg.CloseAll()
	})
	return ts, reg
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func createSession(t *testing.T, base, token string) string {
	t.Helper()
	resp := do(t, http.MethodPost, base+"/v1/sessions", token, map[string]string{"platform": "youtube", "media_id": "vid1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID == "" {
		t.Fatal("empty session id")
	}
	return body.SessionID
}

// wireMessage is the page-side view of a daemon message.
type wireMessage struct {
	Type     string          `json:"type"`
	MediaID  string          `json:"media_id"`
	Selector string          `json:"selector"`
	Visible  *bool           `json:"visible"`
	Mounted  *bool           `json:"mounted"`
	Text     string          `json:"text"`
	Payload  json.RawMessage `json:"payload"`
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, what string, match func(wireMessage) bool) wireMessage {
	t.Helper()
	for {
		var msg wireMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestSessionLifecycleOverWebSocket(t *testing.T) {
	t.Parallel()

	ts, reg := newTestServer(t)
	id := createSession(t, ts.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	readUntil(t, ctx, conn, "mount_toggle", func(m wireMessage) bool {
		return m.Type == session.MsgMountToggle && m.Mounted != nil && *m.Mounted
	})

	if err := wsjson.Write(ctx, conn, map[string]any{"type": "toggle", "enabled": true}); err != nil {
		t.Fatalf("write toggle: %v", err)
	}
	fetch := readUntil(t, ctx, conn, "fetch", func(m wireMessage) bool { return m.Type == session.MsgFetch })
	if fetch.MediaID != "vid1" {
		t.Errorf("fetch media id = %q", fetch.MediaID)
	}

	payload := `{"events":[{"tStartMs":0,"dDurationMs":2000,"segs":[{"utf8":"Good morning."}]}]}`
	resp := do(t, http.MethodPost, ts.URL+"/v1/sessions/"+id+"/captions", "", map[string]any{
		"media_id": "vid1",
		"language": "en",
		"format":   "json3",
		"payload":  json.RawMessage(payload),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("captions status = %d", resp.StatusCode)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{"type": "time", "position_ms": 500}); err != nil {
		t.Fatalf("write time: %v", err)
	}
	readUntil(t, ctx, conn, "translated caption", func(m wireMessage) bool {
		if m.Type != session.MsgCaption || len(m.Payload) == 0 {
			return false
		}
		var frag struct {
			Text        string `json:"text"`
			Translation string `json:"translation"`
		}
		if err := json.Unmarshal(m.Payload, &frag); err != nil {
			return false
		}
		return frag.Text == "Good morning." && frag.Translation == "[de] Good morning."
	})

	resp = do(t, http.MethodDelete, ts.URL+"/v1/sessions/"+id, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if reg.Len() != 0 {
		t.Errorf("registry still holds %d sessions", reg.Len())
	}
}

func TestUndecodableCaptionsFailPendingFetch(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	id := createSession(t, ts.URL, "")

	// Well under the default fetch timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	readUntil(t, ctx, conn, "mount_toggle", func(m wireMessage) bool {
		return m.Type == session.MsgMountToggle && m.Mounted != nil && *m.Mounted
	})
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "toggle", "enabled": true}); err != nil {
		t.Fatalf("write toggle: %v", err)
	}
	readUntil(t, ctx, conn, "fetch", func(m wireMessage) bool { return m.Type == session.MsgFetch })

	resp := do(t, http.MethodPost, ts.URL+"/v1/sessions/"+id+"/captions", "", map[string]any{
		"media_id": "vid1",
		"format":   "json3",
		"payload":  json.RawMessage(`{"events":"oops"}`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("captions status = %d, want 400", resp.StatusCode)
	}

	readUntil(t, ctx, conn, "invalid payload status", func(m wireMessage) bool {
		if m.Type != session.MsgStatus || len(m.Payload) == 0 {
			return false
		}
		var st struct {
			State   string `json:"state"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(m.Payload, &st); err != nil {
			return false
		}
		return st.State == "fetch_failed" && st.Message == "Invalid caption payload"
	})
}

func TestSessionErrors(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	id := createSession(t, ts.URL, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown platform", http.MethodPost, "/v1/sessions", map[string]string{"platform": "vimeo"}, http.StatusBadRequest},
		{"missing platform", http.MethodPost, "/v1/sessions", map[string]string{}, http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, "/v1/sessions/nope", nil, http.StatusNotFound},
		{"captions unknown session", http.MethodPost, "/v1/sessions/nope/captions", map[string]string{"media_id": "x"}, http.StatusNotFound},
		{"captions without media id", http.MethodPost, "/v1/sessions/" + id + "/captions", map[string]string{}, http.StatusBadRequest},
		{"captions not requested", http.MethodPost, "/v1/sessions/" + id + "/captions", map[string]any{"media_id": "vid1", "format": "events", "payload": json.RawMessage(`[]`)}, http.StatusConflict},
		{"captions bad format", http.MethodPost, "/v1/sessions/" + id + "/captions", map[string]any{"media_id": "vid1", "format": "srt", "payload": json.RawMessage(`"x"`)}, http.StatusBadRequest},
		{"ws unknown session", http.MethodGet, "/v1/sessions/nope/ws", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, "", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	const secret = "test-secret"
	ts, _ := newTestServer(t, server.WithAuthSecret(secret))

	resp := do(t, http.MethodPost, ts.URL+"/v1/sessions", "", map[string]string{"platform": "youtube"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	bad, err := server.IssueToken("other-secret", "ext", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	resp = do(t, http.MethodPost, ts.URL+"/v1/sessions", bad, map[string]string{"platform": "youtube"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", resp.StatusCode)
	}

	good, err := server.IssueToken(secret, "ext", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	createSession(t, ts.URL, good)

	// Health stays public.
	if resp := do(t, http.MethodGet, ts.URL+"/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	expired, err := server.IssueToken("s", "ext", -time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	// A non-positive ttl means no expiry.
	if _, err := server.ValidateToken([]byte("s"), expired); err != nil {
		t.Errorf("token without expiry rejected: %v", err)
	}
	if _, err := server.ValidateToken([]byte("s"), "not.a.token"); err == nil {
		t.Error("garbage token accepted")
	}
	if _, err := server.IssueToken("", "ext", time.Hour); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, server.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "captionflow_up 1\n")
	})))
	resp := do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "captionflow_up") {
		t.Errorf("metrics = %d %q", resp.StatusCode, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, server.WithAllowedOrigins([]string{"https://www.youtube.com"}))
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/sessions", nil)
	req.Header.Set("Origin", "https://www.youtube.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://www.youtube.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
