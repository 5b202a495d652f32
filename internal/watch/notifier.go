// Package watch polls an account's balances and open orders, diffs
// them against the last seen state, monitors book prices across
// venues, and pushes human-readable alerts to a webhook.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notifier posts alert messages to an IFTTT-style webhook. Messages
// inside the minimum interval are dropped, not queued.
type Notifier struct {
	url         string
	minInterval time.Duration
	client      *http.Client
	log         *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewNotifier builds a notifier for the webhook URL. An empty URL
// yields a notifier that only logs.
func NewNotifier(url string, minInterval time.Duration, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		url:         url,
		minInterval: minInterval,
		client:      &http.Client{Timeout: 15 * time.Second},
		log:         log.Named("notify"),
	}
}

// Notify delivers one message, subject to the rate limit. A dropped
// message returns nil; delivery failures return the transport error.
func (n *Notifier) Notify(ctx context.Context, msg string) error {
	n.mu.Lock()
	if !n.last.IsZero() && time.Since(n.last) < n.minInterval {
		n.mu.Unlock()
		n.log.Debug("notification suppressed", zap.String("msg", msg))
		return nil
	}
	n.last = time.Now()
	n.mu.Unlock()

	n.log.Info("notifying", zap.String("msg", msg))
	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"value1": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}
