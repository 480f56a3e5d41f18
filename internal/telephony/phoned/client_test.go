package phoned

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calld/internal/telephony"
)

var _ telephony.Devices = (*Client)(nil)

func TestDeviceActions(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.Header.Get("X-Auth-Token") != "tok" {
			t.Errorf("missing token header")
		}
		paths = append(paths, r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", time.Second)
	ctx := context.Background()
	if err := c.Hold(ctx, "PJSIP/alice"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := c.Unhold(ctx, "PJSIP/alice"); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if err := c.Answer(ctx, "PJSIP/alice"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	want := []string{
		"/0.1/endpoints/PJSIP%2Falice/hold/start",
		"/0.1/endpoints/PJSIP%2Falice/hold/stop",
		"/0.1/endpoints/PJSIP%2Falice/answer",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("request %d path = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestDeviceActions_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such device", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	if err := c.Hold(context.Background(), "PJSIP/ghost"); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}
