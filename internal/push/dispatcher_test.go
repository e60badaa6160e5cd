package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTokenRepo implements pushtoken.Repository over a static map.
type fakeTokenRepo struct {
	tokens map[string][]string
}

func (r *fakeTokenRepo) Register(context.Context, string, string) error { return nil }
func (r *fakeTokenRepo) Unregister(context.Context, string) error      { return nil }
func (r *fakeTokenRepo) Tokens(_ context.Context, account string) ([]string, error) {
	return r.tokens[account], nil
}

func TestDeliverBatchesAllDevices(t *testing.T) {
	t.Parallel()

	var got []gatewayMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal push payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	repo := &fakeTokenRepo{tokens: map[string][]string{"bob": {"tok-1", "tok-2"}}}
	d := NewDispatcher(repo, srv.URL, 5*time.Second, 8, 2, zerolog.Nop())

	badge := 3
	err := d.deliver(context.Background(), Notification{
		Title:   "alice",
		Body:    "hi",
		Data:    map[string]any{"conversationId": "c1"},
		Account: "bob",
		Badge:   &badge,
	})
	if err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("gateway received %d messages, want 2", len(got))
	}
	if got[0].To != "tok-1" || got[1].To != "tok-2" {
		t.Errorf("recipients = %q/%q, want tok-1/tok-2", got[0].To, got[1].To)
	}
	if got[0].Title != "alice" || got[0].Body != "hi" {
		t.Errorf("message = %q/%q, want alice/hi", got[0].Title, got[0].Body)
	}
	if got[0].Sound != "default" {
		t.Errorf("sound = %q, want default", got[0].Sound)
	}
	if got[0].Badge == nil || *got[0].Badge != 3 {
		t.Errorf("badge = %v, want 3", got[0].Badge)
	}
}

func TestDeliverNoTokensNoRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := NewDispatcher(&fakeTokenRepo{}, srv.URL, 5*time.Second, 8, 2, zerolog.Nop())
	if err := d.deliver(context.Background(), Notification{Account: "nobody"}); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("gateway calls = %d, want 0 for account without devices", calls.Load())
	}
}

func TestDeliverRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	repo := &fakeTokenRepo{tokens: map[string][]string{"bob": {"tok-1"}}}
	d := NewDispatcher(repo, srv.URL, 5*time.Second, 8, 3, zerolog.Nop())

	if err := d.deliver(context.Background(), Notification{Account: "bob"}); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("gateway calls = %d, want 2 (one failure, one retry)", calls.Load())
	}
}

func TestDeliverClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	repo := &fakeTokenRepo{tokens: map[string][]string{"bob": {"tok-1"}}}
	d := NewDispatcher(repo, srv.URL, 5*time.Second, 8, 3, zerolog.Nop())

	if err := d.deliver(context.Background(), Notification{Account: "bob"}); err == nil {
		t.Fatal("deliver() error = nil, want permanent gateway error")
	}
	if calls.Load() != 1 {
		t.Errorf("gateway calls = %d, want 1 (4xx must not be retried)", calls.Load())
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeTokenRepo{}, "http://unused", time.Second, 1, 1, zerolog.Nop())

	d.Enqueue(Notification{Account: "a"})
	d.Enqueue(Notification{Account: "b"}) // queue full, must not block

	if len(d.queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(d.queue))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeTokenRepo{}, "http://unused", time.Second, 1, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}
