package pricing

import (
	"testing"

	"github.com/speecher/stt-engine/internal/config"
)

func testConfig() config.PricingConfig {
	return config.PricingConfig{
		AWSPerMinute:       0.024,
		AzurePerMinute:     0.0166667,
		GCPPerMinute:       0.024,
		GCPDiarization:     0.004,
		StoragePerGBMonth:  0.023,
		RequestOverheadUSD: 0.00002,
	}
}

func TestEstimate_PerProvider(t *testing.T) {
	table := New(testConfig())

	tests := []struct {
		name        string
		provider    string
		seconds     float64
		diarization bool
		transcribe  float64
		diarizeCost float64
	}{
		{"aws_ten_minutes", "aws", 600, false, 0.24, 0},
		{"azure_one_hour", "azure", 3600, false, 1.0, 0},
		{"gcp_plain", "gcp", 600, false, 0.24, 0},
		{"gcp_diarized", "gcp", 600, true, 0.24, 0.04},
		{"aws_diarized_no_surcharge", "aws", 600, true, 0.24, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := table.Estimate(tt.provider, tt.seconds, 0, tt.diarization)
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if est.Transcribe != tt.transcribe {
				t.Errorf("Transcribe = %v, want %v", est.Transcribe, tt.transcribe)
			}
			if est.Diarization != tt.diarizeCost {
				t.Errorf("Diarization = %v, want %v", est.Diarization, tt.diarizeCost)
			}
		})
	}
}

func TestEstimate_ZeroDuration(t *testing.T) {
	est, err := New(testConfig()).Estimate("aws", 0, 0, false)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Transcribe != 0 || est.Diarization != 0 || est.Storage != 0 {
		t.Errorf("zero duration produced nonzero usage cost: %+v", est)
	}
	// The flat request overhead still applies.
	if est.Total != est.Request {
		t.Errorf("Total = %v, want overhead only %v", est.Total, est.Request)
	}
}

func TestEstimate_Monotonic(t *testing.T) {
	table := New(testConfig())

	prev := 0.0
	for _, seconds := range []float64{60, 300, 600, 3600, 7200} {
		est, err := table.Estimate("aws", seconds, 1<<20, false)
		if err != nil {
			t.Fatalf("Estimate(%v): %v", seconds, err)
		}
		if est.Total <= prev {
			t.Errorf("Total for %vs = %v, not greater than %v", seconds, est.Total, prev)
		}
		prev = est.Total
	}
}

func TestEstimate_RoundedToFourDecimals(t *testing.T) {
	// 17s at $0.024/min = $0.0068: survives rounding exactly. 1s at the
	// azure rate = $0.0002777..., must come back as 0.0003.
	est, err := New(testConfig()).Estimate("azure", 1, 0, false)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Transcribe != 0.0003 {
		t.Errorf("Transcribe = %v, want 0.0003", est.Transcribe)
	}
}

func TestEstimate_UnknownProvider(t *testing.T) {
	if _, err := New(testConfig()).Estimate("whisper", 60, 0, false); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestEstimate_NegativeDuration(t *testing.T) {
	if _, err := New(testConfig()).Estimate("aws", -1, 0, false); err == nil {
		t.Error("expected error for negative duration")
	}
}
