package proxy

import (
	"net/http/httptest"
	"testing"
)

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter() error = %v", err)
	}

	if err := sse.WriteEvent("pending", LoginPendingEvent{Message: "line one\nline two"}); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	if err := sse.WriteComment("waiting\nstill"); err != nil {
		t.Fatalf("WriteComment() error = %v", err)
	}

	want := "event: pending\ndata: {\"message\":\"line one\\nline two\"}\n\n" +
		": waiting\n: still\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("stream = %q, want %q", got, want)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream;charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if !rec.Flushed {
		t.Error("writer did not flush")
	}

	if err := sse.WriteEvent("bad\nname", nil); err == nil {
		t.Error("WriteEvent() with newline in name succeeded")
	}
}
