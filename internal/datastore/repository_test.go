package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/search"
)

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func TestRepository_FallsBackToWeb(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM competitors`).
		WillReturnRows(sqlmock.NewRows([]string{"molecule", "competitor_name", "predicted_strategy", "likelihood", "impact"}))

	web := &fakeSearcher{results: []search.Result{{Title: "Dr. Reddy's plans launch", Snippet: "Generic entry expected in 2026"}}}
	repo := NewRepository(store, nil, nil, logger.NewTestLogger(t)).WithWeb(web)

	out, err := repo.CompetitorIntel(context.Background(), Filter{Molecule: "Rivaroxaban"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Dr. Reddy's plans launch", out[0].CompetitorName)
	assert.Equal(t, "Rivaroxaban", out[0].Molecule)
	assert.Contains(t, web.queries[0], "Rivaroxaban")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_NoWebFallbackForSentiment(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM social_posts`).
		WillReturnRows(sqlmock.NewRows([]string{"molecule", "therapy_area", "source", "post_date", "post_text", "sentiment", "complaint_theme"}))

	web := &fakeSearcher{results: []search.Result{{Title: "x"}}}
	repo := NewRepository(store, nil, nil, logger.NewTestLogger(t)).WithWeb(web)

	out, err := repo.PatientSentiment(context.Background(), Filter{TherapyArea: "Diabetes"})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, web.queries)
}

func TestRepository_AllSourcesFailed(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM patents`).WillReturnError(errors.New("connection refused"))

	web := &fakeSearcher{err: search.ErrWebSearchFailed}
	repo := NewRepository(store, nil, nil, logger.NewTestLogger(t)).WithWeb(web)

	_, err := repo.Patents(context.Background(), Filter{Molecule: "Rivaroxaban"})
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrWebSearchFailed)
}

func TestRepository_WithWebDoesNotMutateBase(t *testing.T) {
	base := NewRepository(nil, nil, nil, logger.NewTestLogger(t))
	_ = base.WithWeb(&fakeSearcher{})
	assert.Nil(t, base.web)

	out, err := base.TradeData(context.Background(), Filter{Molecule: "Metformin"})
	require.NoError(t, err)
	assert.Empty(t, out)
}
