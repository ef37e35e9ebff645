package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "entries.rescanned", Data: map[string]string{"root": ""}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: entries.rescanned") {
			t.Errorf("missing event type in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishSaveResult(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishSaveResult("2024-01-01.md", nil)
	b.PublishSaveResult("2024-01-02.md", errors.New("disk full"))

	var okMsg, failMsg string
	deadline := time.After(time.Second)
	for okMsg == "" || failMsg == "" {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "save.ok"):
				okMsg = s
			case strings.Contains(s, "save.failed"):
				failMsg = s
			}
		case <-deadline:
			t.Fatal("timeout waiting for save events")
		}
	}

	if !strings.Contains(okMsg, `"path":"2024-01-01.md"`) {
		t.Errorf("save.ok payload = %q", okMsg)
	}
	if !strings.Contains(failMsg, "disk full") {
		t.Errorf("save.failed payload = %q", failMsg)
	}
}

func TestActivityUpdatedThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Rapid nudges collapse into one broadcast inside the throttle window.
	b.PublishActivityUpdated()
	b.PublishActivityUpdated()
	b.PublishActivityUpdated()

	time.Sleep(50 * time.Millisecond)
	count := 0
loop:
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "activity.updated") {
				count++
			}
		default:
			break loop
		}
	}

	if count != 1 {
		t.Errorf("activity events = %d, want 1 (throttled)", count)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishSaveResult("x.md", nil)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: save.ok") {
		t.Errorf("handler output missing event: %q", body)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/event-stream") {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	b.Close()
	b.Close()

	// Operations after Close are safe no-ops.
	b.Publish(Event{Type: "late"})
	b.PublishActivityUpdated()
	if n := b.ClientCount(); n != 0 {
		t.Errorf("ClientCount after close = %d", n)
	}
	ch := b.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
