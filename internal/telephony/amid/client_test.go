package amid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calld/internal/telephony"
)

var _ telephony.Actions = (*Client)(nil)

type recorded struct {
	path   string
	token  string
	params map[string]string
}

func newServer(t *testing.T, reply func(action string) (int, any)) (*Client, *[]recorded) {
	t.Helper()
	var got []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]string
		_ = json.NewDecoder(r.Body).Decode(&params)
		got = append(got, recorded{path: r.URL.Path, token: r.Header.Get("X-Auth-Token"), params: params})
		status, body := reply(r.URL.Path[len("/1.0/action/"):])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "tok", time.Second), &got
}

func TestExtensionExists(t *testing.T) {
	c, got := newServer(t, func(string) (int, any) {
		return http.StatusOK, []map[string]any{
			{"Response": "Success"},
			{"Event": "ListDialplan", "Context": "default", "Extension": "1002", "Priority": "1"},
			{"Event": "ListDialplan", "Context": "default", "Extension": "1002", "Priority": "2"},
			{"Event": "ShowDialplanComplete"},
		}
	})
	ctx := context.Background()

	ok, err := c.ExtensionExists(ctx, "default", "1002", 2)
	if err != nil || !ok {
		t.Fatalf("expected priority 2 to exist, got %v err=%v", ok, err)
	}
	ok, err = c.ExtensionExists(ctx, "default", "1002", 3)
	if err != nil || ok {
		t.Fatalf("expected priority 3 to be absent, got %v err=%v", ok, err)
	}
	r := (*got)[0]
	if r.path != "/1.0/action/ShowDialplan" || r.token != "tok" {
		t.Fatalf("unexpected request: %+v", r)
	}
	if r.params["Context"] != "default" || r.params["Extension"] != "1002" {
		t.Fatalf("unexpected params: %v", r.params)
	}
}

func TestExtensionExists_RejectedIsAbsent(t *testing.T) {
	c, _ := newServer(t, func(string) (int, any) {
		return http.StatusBadRequest, map[string]string{"message": "no such context"}
	})
	ok, err := c.ExtensionExists(context.Background(), "nowhere", "1", 1)
	if err != nil || ok {
		t.Fatalf("expected absent without error, got %v err=%v", ok, err)
	}
}

func TestExtensionExists_ErrorResponseIsAbsent(t *testing.T) {
	c, _ := newServer(t, func(string) (int, any) {
		return http.StatusOK, []map[string]any{{"Response": "Error", "Message": "Did not find context nowhere"}}
	})
	ok, err := c.ExtensionExists(context.Background(), "nowhere", "1", 1)
	if err != nil || ok {
		t.Fatalf("expected absent without error, got %v err=%v", ok, err)
	}
}

func TestExtensionExists_UnavailableGatewayIsAnError(t *testing.T) {
	c, _ := newServer(t, func(string) (int, any) {
		return http.StatusServiceUnavailable, map[string]string{"message": "manager not connected"}
	})
	ok, err := c.ExtensionExists(context.Background(), "default", "1002", 1)
	if ok || !errors.Is(err, ErrActionFailed) {
		t.Fatalf("expected the failure to propagate, got %v err=%v", ok, err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected a 503 StatusError, got %v", err)
	}
}

func TestExtensionExists_TransportErrorIsAnError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "tok", time.Second)
	if ok, err := c.ExtensionExists(context.Background(), "default", "1002", 1); ok || err == nil {
		t.Fatalf("expected transport error, got %v err=%v", ok, err)
	}
}

func TestActions(t *testing.T) {
	c, got := newServer(t, func(string) (int, any) {
		return http.StatusOK, []map[string]any{{"Response": "Success"}}
	})
	ctx := context.Background()
	ch := "PJSIP/alice-00000001"

	if err := c.Mute(ctx, ch); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.SendDTMF(ctx, ch, "#"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.RecordStart(ctx, ch, "/tmp/x.wav", "b"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.RecordStop(ctx, ch); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	want := []struct {
		path  string
		key   string
		value string
	}{
		{"/1.0/action/MuteAudio", "State", "on"},
		{"/1.0/action/PlayDTMF", "Digit", "#"},
		{"/1.0/action/MixMonitor", "options", "b"},
		{"/1.0/action/StopMixMonitor", "Channel", ch},
	}
	if len(*got) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(*got))
	}
	for i, w := range want {
		r := (*got)[i]
		if r.path != w.path || r.params[w.key] != w.value || r.params["Channel"] != ch {
			t.Errorf("request %d = %+v, want %s with %s=%s", i, r, w.path, w.key, w.value)
		}
	}
}

func TestAction_FailureStatus(t *testing.T) {
	c, _ := newServer(t, func(string) (int, any) {
		return http.StatusServiceUnavailable, map[string]string{"message": "down"}
	})
	if err := c.Unmute(context.Background(), "PJSIP/a-1"); !errors.Is(err, ErrActionFailed) {
		t.Fatalf("expected ErrActionFailed, got %v", err)
	}
}
