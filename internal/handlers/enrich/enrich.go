// Package enrich asks a remote metadata provider about one media item and
// chains a publish job with the merged result.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

type Handler struct {
	client  *http.Client
	baseURL string
	targets []string
}

// New builds an enrich handler. baseURL is the metadata provider endpoint;
// targets are the playback clients the publish phase should notify.
func New(baseURL string, targets []string) *Handler {
	return &Handler{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		targets: targets,
	}
}

func (h *Handler) Type() domain.JobType { return domain.TypeEnrich }

type providerResult struct {
	Title string `json:"title"`
	Plot  string `json:"plot"`
}

func (h *Handler) Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error) {
	decoded, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	p := decoded.(domain.EnrichPayload)

	res, err := h.lookup(ctx, p)
	if err != nil {
		return nil, err
	}

	title := p.Title
	if res.Title != "" {
		title = res.Title
	}
	return []domain.Followup{{
		Type: domain.TypePublish,
		Payload: domain.PublishPayload{
			MediaID: p.MediaID,
			Path:    p.Path,
			Title:   title,
			Year:    p.Year,
			Plot:    res.Plot,
			Targets: h.targets,
		},
	}}, nil
}

// lookup classifies provider responses: 5xx and transport failures are
// transient (outages retry and trip the breaker), 4xx are permanent.
func (h *Handler) lookup(ctx context.Context, p domain.EnrichPayload) (providerResult, error) {
	q := url.Values{"title": {p.Title}}
	if p.Year > 0 {
		q.Set("year", strconv.Itoa(p.Year))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/lookup?"+q.Encode(), nil)
	if err != nil {
		return providerResult{}, domain.Permanent(fmt.Errorf("build provider request: %w", err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return providerResult{}, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return providerResult{}, fmt.Errorf("read provider response: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return providerResult{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return providerResult{}, domain.Permanent(fmt.Errorf("provider rejected %q: %d", p.Title, resp.StatusCode))
	}

	var res providerResult
	if err := json.Unmarshal(body, &res); err != nil {
		return providerResult{}, fmt.Errorf("decode provider response: %w", err)
	}
	return res, nil
}
