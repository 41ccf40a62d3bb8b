package domain

import (
	"encoding/json"
	"fmt"
)

// JobType identifies the handler and payload shape for a job.
type JobType string

const (
	TypeScan        JobType = "scan"
	TypeEnrich      JobType = "enrich"
	TypePublish     JobType = "publish"
	TypeNotify      JobType = "notify"
	TypeMaintenance JobType = "maintenance"
)

// ScanPayload asks for a library directory walk. Each media file found
// chains an enrich job.
type ScanPayload struct {
	LibraryID string `json:"library_id"`
	Path      string `json:"path"`
}

// EnrichPayload asks a remote metadata provider about one media item.
type EnrichPayload struct {
	MediaID   string   `json:"media_id"`
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"`
	Path      string   `json:"path"`
	Providers []string `json:"providers,omitempty"`
}

// PublishPayload writes the enriched metadata (NFO) next to the media file
// and chains one notify job per playback target.
type PublishPayload struct {
	MediaID string   `json:"media_id"`
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Year    int      `json:"year,omitempty"`
	Plot    string   `json:"plot,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// NotifyPayload pings a single playback client about a library change.
type NotifyPayload struct {
	Target  string `json:"target"`
	Event   string `json:"event"`
	MediaID string `json:"media_id,omitempty"`
}

// MaintenancePayload drives housekeeping jobs, e.g. pruning finished job
// records past the retention window.
type MaintenancePayload struct {
	Task      string `json:"task"`
	OlderThan string `json:"older_than,omitempty"` // Go duration string
}

// DecodePayload parses and validates raw payload bytes against the shape
// declared for t. It returns the typed payload or a ValidationError; stores
// never call this, only the submission path does.
func DecodePayload(t JobType, raw json.RawMessage) (any, error) {
	switch t {
	case TypeScan:
		var p ScanPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, &ValidationError{Type: t, Reason: "path is required"}
		}
		return p, nil
	case TypeEnrich:
		var p EnrichPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.MediaID == "" || p.Title == "" {
			return nil, &ValidationError{Type: t, Reason: "media_id and title are required"}
		}
		return p, nil
	case TypePublish:
		var p PublishPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.MediaID == "" || p.Path == "" {
			return nil, &ValidationError{Type: t, Reason: "media_id and path are required"}
		}
		return p, nil
	case TypeNotify:
		var p NotifyPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Target == "" || p.Event == "" {
			return nil, &ValidationError{Type: t, Reason: "target and event are required"}
		}
		return p, nil
	case TypeMaintenance:
		var p MaintenancePayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Task == "" {
			return nil, &ValidationError{Type: t, Reason: "task is required"}
		}
		return p, nil
	default:
		return nil, &ValidationError{Type: t, Reason: "unknown job type"}
	}
}

// EncodePayload marshals a typed payload and validates it round-trip, so a
// malformed followup is rejected at submission rather than at execution.
func EncodePayload(t JobType, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{Type: t, Reason: fmt.Sprintf("payload not serializable: %v", err)}
	}
	if _, err := DecodePayload(t, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func strictUnmarshal(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return &ValidationError{Reason: "empty payload"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed payload: %v", err)}
	}
	return nil
}
