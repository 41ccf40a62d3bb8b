package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

func enrichJob(t *testing.T, p domain.EnrichPayload) domain.Job {
	t.Helper()
	raw, err := domain.EncodePayload(domain.TypeEnrich, p)
	require.NoError(t, err)
	return domain.Job{ID: "jb_1", Type: domain.TypeEnrich, Payload: raw}
}

func TestHandleChainsPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		assert.Equal(t, "Heat", r.URL.Query().Get("title"))
		assert.Equal(t, "1995", r.URL.Query().Get("year"))
		w.Write([]byte(`{"title":"Heat","plot":"A crew of thieves."}`))
	}))
	defer srv.Close()

	h := New(srv.URL, []string{"http://kodi:8080"})
	followups, err := h.Handle(context.Background(), enrichJob(t, domain.EnrichPayload{
		MediaID: "md_1", Title: "Heat", Year: 1995, Path: "/media/Heat (1995).mkv",
	}))
	require.NoError(t, err)
	require.Len(t, followups, 1)

	assert.Equal(t, domain.TypePublish, followups[0].Type)
	p := followups[0].Payload.(domain.PublishPayload)
	assert.Equal(t, "md_1", p.MediaID)
	assert.Equal(t, "/media/Heat (1995).mkv", p.Path)
	assert.Equal(t, "A crew of thieves.", p.Plot)
	assert.Equal(t, []string{"http://kodi:8080"}, p.Targets)
}

func TestHandleKeepsTitleWhenProviderOmitsIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"plot":"..."}`))
	}))
	defer srv.Close()

	h := New(srv.URL, nil)
	followups, err := h.Handle(context.Background(), enrichJob(t, domain.EnrichPayload{
		MediaID: "md_1", Title: "Heat", Path: "/x.mkv",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Heat", followups[0].Payload.(domain.PublishPayload).Title)
}

func TestHandleServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := New(srv.URL, nil)
	_, err := h.Handle(context.Background(), enrichJob(t, domain.EnrichPayload{
		MediaID: "md_1", Title: "Heat", Path: "/x.mkv",
	}))
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
}

func TestHandleClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := New(srv.URL, nil)
	_, err := h.Handle(context.Background(), enrichJob(t, domain.EnrichPayload{
		MediaID: "md_1", Title: "Nope", Path: "/x.mkv",
	}))
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestHandleUnreachableProviderIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	h := New(srv.URL, nil)
	_, err := h.Handle(context.Background(), enrichJob(t, domain.EnrichPayload{
		MediaID: "md_1", Title: "Heat", Path: "/x.mkv",
	}))
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
}
