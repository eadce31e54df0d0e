package federation

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
)

// RunClient dials the configured federation URL and keeps the link up,
// reconnecting with exponential backoff. Used on client-role nodes.
func (h *Hub) RunClient(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	policy.MaxInterval = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cfg := h.cfg().Federation
		if !cfg.Enabled || cfg.URL == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := h.dialOnce(ctx, cfg.URL, cfg.Token); err != nil && ctx.Err() == nil {
			h.logger.Warn("federation dial failed", "url", cfg.URL, "error", err)
		} else {
			// A completed session resets the backoff clock.
			policy.Reset()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.NextBackOff()):
		}
	}
}

func (h *Hub) dialOnce(ctx context.Context, url, token string) error {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, normalizeWSURL(url), opts)
	if err != nil {
		return err
	}
	h.logger.Info("federation link established", "url", url)
	h.attach(ctx, conn)
	return nil
}
