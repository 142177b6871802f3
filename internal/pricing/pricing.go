// Package pricing estimates the USD cost of a transcription before and after
// it runs. Rates come from configuration and published provider price sheets;
// estimates are informational only and never gate a job.
package pricing

import (
	"fmt"
	"math"

	"github.com/speecher/stt-engine/internal/config"
)

// Estimate is a per-job cost breakdown. All amounts are USD rounded to four
// decimal places; Total is the rounded sum of the rounded components.
type Estimate struct {
	Provider    string  `json:"provider"`
	Minutes     float64 `json:"audio_minutes"`
	Transcribe  float64 `json:"transcribe_usd"`
	Diarization float64 `json:"diarization_usd"`
	Storage     float64 `json:"storage_usd"`
	Request     float64 `json:"request_usd"`
	Total       float64 `json:"total_usd"`
}

// rate is one provider's per-minute pricing.
type rate struct {
	perMinute   float64
	diarization float64 // surcharge per minute when speaker labels are on
}

// Table resolves provider rates. Construct once with New and share freely;
// a Table is immutable.
type Table struct {
	rates    map[string]rate
	storage  float64 // per GB-month
	overhead float64 // flat per-request API overhead
}

// New builds a Table from configured rates.
func New(cfg config.PricingConfig) *Table {
	return &Table{
		rates: map[string]rate{
			"aws":   {perMinute: cfg.AWSPerMinute, diarization: cfg.AWSDiarization},
			"azure": {perMinute: cfg.AzurePerMinute, diarization: cfg.AzureDiarization},
			"gcp":   {perMinute: cfg.GCPPerMinute, diarization: cfg.GCPDiarization},
		},
		storage:  cfg.StoragePerGBMonth,
		overhead: cfg.RequestOverheadUSD,
	}
}

// Providers returns the provider names the table knows rates for.
func (t *Table) Providers() []string {
	names := make([]string, 0, len(t.rates))
	for name := range t.rates {
		names = append(names, name)
	}
	return names
}

// Estimate prices a transcription of the given audio. Duration is in
// seconds, sizeBytes is the uploaded audio size. Returns an error for a
// provider without a configured rate or a negative duration.
func (t *Table) Estimate(provider string, durationSeconds float64, sizeBytes int64, diarization bool) (*Estimate, error) {
	r, ok := t.rates[provider]
	if !ok {
		return nil, fmt.Errorf("no pricing for provider %q", provider)
	}
	if durationSeconds < 0 {
		return nil, fmt.Errorf("negative duration %v", durationSeconds)
	}

	minutes := durationSeconds / 60

	est := &Estimate{
		Provider:   provider,
		Minutes:    round4(minutes),
		Transcribe: round4(minutes * r.perMinute),
		// Audio typically lives in provider storage for under a day;
		// bill one day of the monthly rate.
		Storage: round4(float64(sizeBytes) / (1 << 30) * t.storage / 30),
		Request: round4(t.overhead),
	}
	if diarization {
		est.Diarization = round4(minutes * r.diarization)
	}
	est.Total = round4(est.Transcribe + est.Diarization + est.Storage + est.Request)
	return est, nil
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
