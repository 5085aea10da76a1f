package datastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_MarketData(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM market_data WHERE LOWER\(region\) = LOWER\(\$1\) AND therapy_area ILIKE \$2 ESCAPE '\\' ORDER BY market_size_usd_mn DESC LIMIT \$3`).
		WithArgs("India", "%Oncology%", int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{
			"molecule", "region", "therapy_area", "indication", "market_size_usd_mn", "cagr_percent",
			"top_competitors", "generic_penetration", "patient_burden", "competition_level",
		}).AddRow("Osimertinib", "India", "Oncology", "NSCLC", 410.5, 12.4,
			[]byte(`["AstraZeneca","Natco"]`), "Low", "High", "Medium"))

	out, err := store.MarketData(context.Background(), Filter{Region: "India", TherapyArea: "Oncology"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Osimertinib", out[0].Molecule)
	assert.Equal(t, []string{"AstraZeneca", "Natco"}, out[0].TopCompetitors)
	assert.InDelta(t, 12.4, out[0].CAGRPercent, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LowCompetitionMarkets(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM market_data WHERE therapy_area ILIKE \$1 ESCAPE '\\' AND LOWER\(.*\) IN \('low', 'medium'\) ORDER BY cagr_percent DESC LIMIT \$2`).
		WithArgs("%Respiratory%", int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{
			"molecule", "region", "therapy_area", "indication", "market_size_usd_mn", "cagr_percent",
			"top_competitors", "generic_penetration", "patient_burden", "competition_level",
		}).AddRow("Pirfenidone", "India", "Respiratory", "IPF", 85.0, 14.0, nil, "", "High", "Low"))

	out, err := store.LowCompetitionMarkets(context.Background(), Filter{TherapyArea: "Respiratory", Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].TopCompetitors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Patents(t *testing.T) {
	store, mock := newMockStore(t)
	expiry := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM patents WHERE molecule ILIKE \$1 ESCAPE '\\' AND LOWER\(country\) = LOWER\(\$2\)`).
		WithArgs("%Rivaroxaban%", "US", int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"molecule", "patent_number", "patent_type", "expiry_date", "status", "country"}).
			AddRow("Rivaroxaban", "US7157456", "Composition of Matter", expiry, "Active", "US").
			AddRow("Rivaroxaban", "US9539218", "Formulation", nil, "Active", "US"))

	out, err := store.Patents(context.Background(), Filter{Molecule: "Rivaroxaban", Country: "US"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "2027-06-01", out[0].ExpiryDate)
	assert.Empty(t, out[1].ExpiryDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NoFilterHasNoWhere(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM trade_data ORDER BY molecule LIMIT \$1`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"molecule", "total_import_volume_kg", "major_source_countries", "average_price_per_kg"}))

	out, err := store.TradeData(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InternalDocsSearchesEveryTextColumn(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM internal_docs WHERE \(title ILIKE \$1 ESCAPE '\\' OR summary ILIKE \$1 ESCAPE '\\' OR content ILIKE \$1 OR tags::text ILIKE \$1 OR title ILIKE \$2 .* tags::text ILIKE \$2\)`).
		WithArgs("%oncology%", "%strategy%", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "title", "summary", "content", "tags"}).
			AddRow("DOC-7", "Oncology strategy 2026", "Plan", "Body", []byte(`["oncology"]`)))

	out, err := store.InternalDocs(context.Background(), Filter{Text: "Our oncology strategy?", Limit: 5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"oncology"}, out[0].Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EscapesLikeMetacharacters(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Oncology", want: "%Oncology%"},
		{name: "percent", in: "100%", want: `%100\%%`},
		{name: "underscore", in: "GLP_1", want: `%GLP\_1%`},
		{name: "backslash", in: `a\b`, want: `%a\\b%`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectQuery(`FROM clinical_trials WHERE therapy_area ILIKE \$1 ESCAPE '\\'`).
				WithArgs(tt.want, int64(50)).
				WillReturnRows(sqlmock.NewRows([]string{"trial_id"}))

			_, err := store.ClinicalTrials(context.Background(), Filter{TherapyArea: tt.in})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_CountryIsExactMatch(t *testing.T) {
	store, mock := newMockStore(t)

	// "US" must not be sent as a %US% pattern that would also match Australia or Russia
	mock.ExpectQuery(`FROM patents WHERE LOWER\(country\) = LOWER\(\$1\)`).
		WithArgs("us", int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"molecule", "patent_number", "patent_type", "expiry_date", "status", "country"}))

	_, err := store.Patents(context.Background(), Filter{Country: "us"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM competitors`).WillReturnError(errors.New("relation does not exist"))

	_, err := store.CompetitorIntel(context.Background(), Filter{Molecule: "Rivaroxaban"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
