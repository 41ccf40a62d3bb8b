// Package publish writes the enriched metadata as an NFO file next to the
// media file and chains one notify job per playback target.
package publish

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() domain.JobType { return domain.TypePublish }

type nfoMovie struct {
	XMLName xml.Name `xml:"movie"`
	Title   string   `xml:"title"`
	Year    int      `xml:"year,omitempty"`
	Plot    string   `xml:"plot,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error) {
	decoded, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	p := decoded.(domain.PublishPayload)

	data, err := xml.MarshalIndent(nfoMovie{Title: p.Title, Year: p.Year, Plot: p.Plot}, "", "  ")
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("encode nfo: %w", err))
	}
	data = append([]byte(xml.Header), data...)

	// Write-then-rename keeps a crashed attempt from leaving a torn NFO;
	// re-running the job overwrites cleanly (idempotent).
	nfo := NFOPath(p.Path)
	tmp := nfo + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write nfo: %w", err)
	}
	if err := os.Rename(tmp, nfo); err != nil {
		return nil, fmt.Errorf("place nfo: %w", err)
	}

	followups := make([]domain.Followup, 0, len(p.Targets))
	for _, target := range p.Targets {
		followups = append(followups, domain.Followup{
			Type: domain.TypeNotify,
			Payload: domain.NotifyPayload{
				Target:  target,
				Event:   "library.updated",
				MediaID: p.MediaID,
			},
		})
	}
	return followups, ctx.Err()
}

// NFOPath maps a media file path to its sidecar metadata path.
func NFOPath(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".nfo"
}
