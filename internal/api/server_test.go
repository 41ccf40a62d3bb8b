package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jsaddiction/Metarr-sub001/internal/queue"
	"github.com/jsaddiction/Metarr-sub001/internal/worker"
)

func newTestServer(t *testing.T) (http.Handler, queue.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", filepath.Join(t.TempDir(), "api.db"))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, queue.EnsureSchema(db))

	store := queue.NewSQLiteStore(db)
	svc := worker.NewService(store, worker.Config{})
	return NewServer(svc, store, store.(queue.ScheduleStore)), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["breaker"])
}

func TestSubmitJob(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/jobs",
		`{"type":"scan","payload":{"library_id":"lib1","path":"/media"},"priority":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/jobs/"+resp.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "scan", job["type"])
	assert.Equal(t, "pending", job["status"])
	assert.EqualValues(t, 2, job["priority"])
}

func TestSubmitJobRejectsBadRequests(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing type", `{"payload":{"path":"/media"}}`},
		{"unknown type", `{"type":"transcode","payload":{}}`},
		{"invalid payload", `{"type":"scan","payload":{}}`},
		{"malformed body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/jobs/jb_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	h, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/jobs",
			fmt.Sprintf(`{"type":"scan","payload":{"path":"/media/%d"}}`, i))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 3)
}

func TestScheduleCRUD(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/schedules",
		`{"name":"nightly-scan","cron_expr":"0 3 * * *","job_type":"scan","payload":{"path":"/media"},"enabled":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/schedules/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/api/schedules/"+created.ID,
		`{"name":"nightly-scan","cron_expr":"30 4 * * *","job_type":"scan","payload":{"path":"/media"},"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "30 4 * * *", updated["cron_expr"])
	assert.Equal(t, false, updated["enabled"])

	rec = doJSON(t, h, http.MethodPut, "/api/schedules/sch_missing",
		`{"name":"x","cron_expr":"* * * * *","job_type":"scan","payload":{"path":"/m"}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/schedules/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScheduleRejectsBadRequests(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing fields", `{"name":"x"}`},
		{"bad cron", `{"name":"x","cron_expr":"every day","job_type":"scan","payload":{"path":"/m"}}`},
		{"bad payload", `{"name":"x","cron_expr":"0 3 * * *","job_type":"scan","payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/schedules", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestScheduleRoutesAbsentWithoutSupport(t *testing.T) {
	store := queue.NewMemoryStore()
	svc := worker.NewService(store, worker.Config{})
	h := NewServer(svc, store, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/schedules", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
