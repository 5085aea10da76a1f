package models

import "time"

// MarketRecord is one market-size row per molecule, region and indication.
type MarketRecord struct {
	Molecule           string   `json:"molecule"`
	Region             string   `json:"region"`
	TherapyArea        string   `json:"therapy_area"`
	Indication         string   `json:"indication"`
	MarketSizeUSDMn    float64  `json:"market_size_usd_mn"`
	CAGRPercent        float64  `json:"cagr_percent"`
	TopCompetitors     []string `json:"top_competitors"`
	GenericPenetration string   `json:"generic_penetration"`
	PatientBurden      string   `json:"patient_burden"`
	CompetitionLevel   string   `json:"competition_level"`
}

// PatentRecord is one patent in a molecule's IP estate. ExpiryDate is YYYY-MM-DD.
type PatentRecord struct {
	Molecule     string `json:"molecule"`
	PatentNumber string `json:"patent_number"`
	PatentType   string `json:"patent_type"`
	ExpiryDate   string `json:"expiry_date"`
	Status       string `json:"status"`
	Country      string `json:"country"`
}

// Expiry parses ExpiryDate; ok is false for malformed dates.
func (p PatentRecord) Expiry() (time.Time, bool) {
	t, err := time.Parse("2006-01-02", p.ExpiryDate)
	return t, err == nil
}

type TrialRecord struct {
	NCTID              string  `json:"nct_id"`
	Indication         string  `json:"indication"`
	TherapyArea        string  `json:"therapy_area"`
	Phase              string  `json:"phase"`
	DrugName           string  `json:"drug_name"`
	Sponsor            string  `json:"sponsor"`
	PatientBurdenScore float64 `json:"patient_burden_score"`
	CompetitionDensity string  `json:"competition_density"`
	UnmetNeed          string  `json:"unmet_need"`
	Status             string  `json:"status"`
}

// SentimentPost is one patient post from a social or forum source.
type SentimentPost struct {
	Molecule       string  `json:"molecule"`
	TherapyArea    string  `json:"therapy_area"`
	Source         string  `json:"source"`
	PostDate       string  `json:"post_date"`
	PostText       string  `json:"post_text"`
	Sentiment      float64 `json:"sentiment"` // -1.0 to 1.0
	ComplaintTheme string  `json:"complaint_theme"`
}

type CompetitorRecord struct {
	Molecule          string `json:"molecule"`
	CompetitorName    string `json:"competitor_name"`
	PredictedStrategy string `json:"predicted_strategy"`
	Likelihood        string `json:"likelihood"`
	Impact            string `json:"impact"`
}

type TradeRecord struct {
	Molecule             string   `json:"molecule"`
	TotalImportVolumeKg  float64  `json:"total_import_volume_kg"`
	MajorSourceCountries []string `json:"major_source_countries"`
	AveragePricePerKg    float64  `json:"average_price_per_kg"`
}

type InternalDoc struct {
	DocID   string   `json:"doc_id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}
