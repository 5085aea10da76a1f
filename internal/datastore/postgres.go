package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pharma-orchestrator/internal/models"
)

// PostgresStore reads the pharma tables. Country and region filters are
// case-insensitive exact matches; every other text filter is a case-insensitive
// substring match.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type whereBuilder struct {
	clauses []string
	args    []interface{}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps value for a substring ILIKE with its metacharacters escaped.
func likePattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}

func (w *whereBuilder) ilike(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, likePattern(value))
	w.clauses = append(w.clauses, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, column, len(w.args)))
}

// equalFold matches column against value exactly, ignoring case.
func (w *whereBuilder) equalFold(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf("LOWER(%s) = LOWER($%d)", column, len(w.args)))
}

// anyILike matches any of the values against any of the columns.
func (w *whereBuilder) anyILike(values []string, columns ...string) {
	var parts []string
	for _, v := range values {
		if v == "" {
			continue
		}
		w.args = append(w.args, likePattern(v))
		for _, c := range columns {
			parts = append(parts, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, c, len(w.args)))
		}
	}
	if len(parts) > 0 {
		w.clauses = append(w.clauses, "("+strings.Join(parts, " OR ")+")")
	}
}

func (w *whereBuilder) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

// build appends WHERE, ORDER BY and LIMIT to base.
func (w *whereBuilder) build(base, orderBy string, limit int) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(base)
	if len(w.clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(w.clauses, " AND "))
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy)
	}
	args := append(w.args, int64(limit))
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	return sb.String(), args
}

func (s *PostgresStore) MarketData(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	var w whereBuilder
	w.ilike("molecule", f.Molecule)
	w.equalFold("region", f.Region)
	w.ilike("therapy_area", f.TherapyArea)
	w.ilike("indication", f.Indication)
	q, args := w.build(`SELECT molecule, region, therapy_area, COALESCE(indication, ''), market_size_usd_mn,
		cagr_percent, top_competitors, COALESCE(generic_penetration, ''), COALESCE(patient_burden, ''),
		COALESCE(competition_level, '') FROM market_data`, "market_size_usd_mn DESC", f.limit())
	return s.queryMarket(ctx, q, args)
}

// LowCompetitionMarkets returns low or medium competition rows, highest CAGR first.
func (s *PostgresStore) LowCompetitionMarkets(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	var w whereBuilder
	w.ilike("therapy_area", f.TherapyArea)
	w.equalFold("region", f.Region)
	w.raw("LOWER(COALESCE(competition_level, generic_penetration, '')) IN ('low', 'medium')")
	q, args := w.build(`SELECT molecule, region, therapy_area, COALESCE(indication, ''), market_size_usd_mn,
		cagr_percent, top_competitors, COALESCE(generic_penetration, ''), COALESCE(patient_burden, ''),
		COALESCE(competition_level, '') FROM market_data`, "cagr_percent DESC", f.limit())
	return s.queryMarket(ctx, q, args)
}

func (s *PostgresStore) queryMarket(ctx context.Context, q string, args []interface{}) ([]models.MarketRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.MarketRecord{}
	for rows.Next() {
		var r models.MarketRecord
		var competitors []byte
		if err := rows.Scan(&r.Molecule, &r.Region, &r.TherapyArea, &r.Indication, &r.MarketSizeUSDMn,
			&r.CAGRPercent, &competitors, &r.GenericPenetration, &r.PatientBurden, &r.CompetitionLevel); err != nil {
			return nil, err
		}
		r.TopCompetitors = decodeStrings(competitors)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Patents(ctx context.Context, f Filter) ([]models.PatentRecord, error) {
	var w whereBuilder
	w.ilike("molecule", f.Molecule)
	w.equalFold("country", f.Country)
	q, args := w.build(`SELECT molecule, patent_number, COALESCE(patent_type, ''), expiry_date, status,
		COALESCE(country, 'US') FROM patents`, "molecule, expiry_date", f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PatentRecord{}
	for rows.Next() {
		var r models.PatentRecord
		var expiry sql.NullTime
		if err := rows.Scan(&r.Molecule, &r.PatentNumber, &r.PatentType, &expiry, &r.Status, &r.Country); err != nil {
			return nil, err
		}
		if expiry.Valid {
			r.ExpiryDate = expiry.Time.Format("2006-01-02")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClinicalTrials(ctx context.Context, f Filter) ([]models.TrialRecord, error) {
	var w whereBuilder
	w.ilike("drug_name", f.Molecule)
	w.ilike("indication", f.Indication)
	w.ilike("therapy_area", f.TherapyArea)
	q, args := w.build(`SELECT nct_id, indication, COALESCE(therapy_area, ''), phase, drug_name,
		COALESCE(sponsor, ''), COALESCE(patient_burden_score, 0), COALESCE(competition_density, ''),
		COALESCE(unmet_need, ''), COALESCE(status, 'Active') FROM clinical_trials`, "indication, phase DESC", f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.TrialRecord{}
	for rows.Next() {
		var r models.TrialRecord
		if err := rows.Scan(&r.NCTID, &r.Indication, &r.TherapyArea, &r.Phase, &r.DrugName, &r.Sponsor,
			&r.PatientBurdenScore, &r.CompetitionDensity, &r.UnmetNeed, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PatientSentiment(ctx context.Context, f Filter) ([]models.SentimentPost, error) {
	var w whereBuilder
	w.ilike("therapy_area", f.TherapyArea)
	w.ilike("molecule", f.Molecule)
	q, args := w.build(`SELECT molecule, COALESCE(therapy_area, ''), COALESCE(source, ''), post_date, post_text,
		COALESCE(sentiment, 0), COALESCE(complaint_theme, '') FROM social_posts`, "post_date DESC NULLS LAST", f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SentimentPost{}
	for rows.Next() {
		var r models.SentimentPost
		var posted sql.NullTime
		if err := rows.Scan(&r.Molecule, &r.TherapyArea, &r.Source, &posted, &r.PostText,
			&r.Sentiment, &r.ComplaintTheme); err != nil {
			return nil, err
		}
		if posted.Valid {
			r.PostDate = posted.Time.Format(time.DateOnly)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CompetitorIntel(ctx context.Context, f Filter) ([]models.CompetitorRecord, error) {
	var w whereBuilder
	w.ilike("molecule", f.Molecule)
	q, args := w.build(`SELECT molecule, competitor_name, COALESCE(predicted_strategy, ''),
		COALESCE(likelihood, ''), COALESCE(impact, '') FROM competitors`, "competitor_name", f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CompetitorRecord{}
	for rows.Next() {
		var r models.CompetitorRecord
		if err := rows.Scan(&r.Molecule, &r.CompetitorName, &r.PredictedStrategy, &r.Likelihood, &r.Impact); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TradeData(ctx context.Context, f Filter) ([]models.TradeRecord, error) {
	var w whereBuilder
	w.ilike("molecule", f.Molecule)
	q, args := w.build(`SELECT molecule, COALESCE(total_import_volume_kg, 0), major_source_countries,
		COALESCE(average_price_per_kg, 0) FROM trade_data`, "molecule", f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.TradeRecord{}
	for rows.Next() {
		var r models.TradeRecord
		var countries []byte
		if err := rows.Scan(&r.Molecule, &r.TotalImportVolumeKg, &countries, &r.AveragePricePerKg); err != nil {
			return nil, err
		}
		r.MajorSourceCountries = decodeStrings(countries)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InternalDocs(ctx context.Context, f Filter) ([]models.InternalDoc, error) {
	var w whereBuilder
	w.anyILike(searchTerms(f.Text), "title", "summary", "content", "tags::text")
	q, args := w.build(`SELECT doc_id, title, COALESCE(summary, ''), COALESCE(content, ''), tags
		FROM internal_docs`, "updated_at DESC", f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.InternalDoc{}
	for rows.Next() {
		var r models.InternalDoc
		var tags []byte
		if err := rows.Scan(&r.DocID, &r.Title, &r.Summary, &r.Content, &tags); err != nil {
			return nil, err
		}
		r.Tags = decodeStrings(tags)
		out = append(out, r)
	}
	return out, rows.Err()
}

// searchTerms keeps the words of a free-text query longer than three runes.
func searchTerms(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len([]rune(w)) > 3 {
			out = append(out, w)
		}
	}
	return out
}

// decodeStrings reads a JSON array column; NULL or malformed yields nil.
func decodeStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
