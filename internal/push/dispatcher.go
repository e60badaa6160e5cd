// Package push delivers mobile push notifications through the external Expo-compatible gateway. Delivery is
// fire-and-forget: handlers enqueue and move on, a single worker drains the queue, and failures are logged and
// swallowed.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/pushtoken"
)

// Notification is one pending push to every device of an account.
type Notification struct {
	Title   string
	Body    string
	Data    map[string]any
	Account string
	Badge   *int
}

// gatewayMessage is the per-device payload posted to the push gateway.
type gatewayMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
	Sound string         `json:"sound"`
	Badge *int           `json:"badge,omitempty"`
}

// Dispatcher queues notifications and posts them to the gateway from a single worker goroutine.
type Dispatcher struct {
	tokens     pushtoken.Repository
	gatewayURL string
	client     *http.Client
	queue      chan Notification
	maxRetries int
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given queue capacity and per-request timeout.
func NewDispatcher(tokens pushtoken.Repository, gatewayURL string, timeout time.Duration, queueSize, maxRetries int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tokens:     tokens,
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: timeout},
		queue:      make(chan Notification, queueSize),
		maxRetries: maxRetries,
		log:        logger.With().Str("component", "push").Logger(),
	}
}

// Enqueue hands a notification to the worker without blocking. When the queue is full the notification is dropped;
// push delivery is best-effort and must never delay the calling handler.
func (d *Dispatcher) Enqueue(n Notification) {
	select {
	case d.queue <- n:
	default:
		d.log.Warn().Str("account", n.Account).Msg("Push queue full, dropping notification")
	}
}

// QueueLen returns the number of notifications waiting for the worker.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// Run drains the queue until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-d.queue:
			if err := d.deliver(ctx, n); err != nil {
				d.log.Warn().Err(err).Str("account", n.Account).Msg("Push delivery failed")
			}
		}
	}
}

// deliver resolves the account's device tokens and posts one batched payload, retrying transient failures with
// exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, n Notification) error {
	tokens, err := d.tokens.Tokens(ctx, n.Account)
	if err != nil {
		return fmt.Errorf("resolve push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	messages := make([]gatewayMessage, len(tokens))
	for i, token := range tokens {
		messages[i] = gatewayMessage{
			To:    token,
			Title: n.Title,
			Body:  n.Body,
			Data:  n.Data,
			Sound: "default",
			Badge: n.Badge,
		}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.post(ctx, payload)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(d.maxRetries)))
	return err
}

// post performs one POST to the push gateway. A 4xx answer is permanent; retrying it would not help.
func (d *Dispatcher) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build push request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("push gateway returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
}
