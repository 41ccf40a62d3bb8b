package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

func noopHandler(t domain.JobType) Handler {
	return HandlerFunc{JobType: t, Fn: func(context.Context, domain.Job) ([]domain.Followup, error) {
		return nil, nil
	}}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(noopHandler(domain.TypeScan)))

	h, err := r.Get(domain.TypeScan)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeScan, h.Type())

	_, err = r.Get(domain.TypeEnrich)
	assert.ErrorIs(t, err, domain.ErrNoHandler)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(noopHandler(domain.TypeScan)))
	err := r.Register(noopHandler(domain.TypeScan))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
