// Package scan walks a library directory and chains an enrich job for every
// media file found.
package scan

import (
	"context"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

var defaultExts = []string{".mkv", ".mp4", ".avi", ".m4v", ".mov"}

// "Title (2009).mkv" style names carry a release year.
var yearRe = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)$`)

type Handler struct {
	exts      map[string]bool
	providers []string
}

// New builds a scan handler. providers is passed through to the enrich
// phase; exts defaults to common video containers when empty.
func New(providers []string, exts ...string) *Handler {
	if len(exts) == 0 {
		exts = defaultExts
	}
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return &Handler{exts: m, providers: providers}
}

func (h *Handler) Type() domain.JobType { return domain.TypeScan }

func (h *Handler) Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error) {
	decoded, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	p := decoded.(domain.ScanPayload)

	if _, err := os.Stat(p.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Permanent(fmt.Errorf("library path %s: %w", p.Path, err))
		}
		return nil, fmt.Errorf("stat library path: %w", err)
	}

	var followups []domain.Followup
	err = filepath.WalkDir(p.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !h.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		title, year := parseName(path)
		followups = append(followups, domain.Followup{
			Type: domain.TypeEnrich,
			Payload: domain.EnrichPayload{
				MediaID:   mediaID(path),
				Title:     title,
				Year:      year,
				Path:      path,
				Providers: h.providers,
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.Path, err)
	}
	return followups, nil
}

// mediaID derives a stable id from the file path so repeated scans of the
// same file enqueue the same item (idempotent chaining).
func mediaID(path string) string {
	return fmt.Sprintf("md_%08x", crc32.ChecksumIEEE([]byte(path)))
}

func parseName(path string) (title string, year int) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if m := yearRe.FindStringSubmatch(base); m != nil {
		y, _ := strconv.Atoi(m[2])
		return strings.TrimSpace(m[1]), y
	}
	return base, 0
}
