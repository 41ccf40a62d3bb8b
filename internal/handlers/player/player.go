// Package player notifies a playback client about a library change over its
// webhook endpoint.
package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

type Handler struct {
	client *http.Client
}

func New() *Handler {
	return &Handler{client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *Handler) Type() domain.JobType { return domain.TypeNotify }

func (h *Handler) Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error) {
	decoded, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	p := decoded.(domain.NotifyPayload)

	body, _ := json.Marshal(map[string]string{
		"event":    p.Event,
		"media_id": p.MediaID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Target, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("build notify request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify %s: %w", p.Target, err)
	}
	defer resp.Body.Close()

	// Unreachable or flapping players retry; a 4xx means the target will
	// never accept this event.
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("player %s returned %d", p.Target, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, domain.Permanent(fmt.Errorf("player %s rejected event: %d", p.Target, resp.StatusCode))
	}
	return nil, nil
}
