package normalize

import (
	"encoding/json"
	"strings"
)

const ticksPerSecond = 1e7 // Azure reports offsets in 100ns ticks

// azureRaw mirrors the Speech batch transcription result file. Azure returns
// phrase-level results; each recognized phrase becomes one unit in the
// segment pipeline.
type azureRaw struct {
	Duration                  string `json:"duration"` // ISO-8601, e.g. "PT12.5S"
	CombinedRecognizedPhrases []struct {
		Display string `json:"display"`
	} `json:"combinedRecognizedPhrases"`
	RecognizedPhrases []struct {
		RecognitionStatus string  `json:"recognitionStatus"`
		Speaker           int     `json:"speaker"`
		OffsetInTicks     float64 `json:"offsetInTicks"`
		DurationInTicks   float64 `json:"durationInTicks"`
		Locale            string  `json:"locale"`
		NBest             []struct {
			Confidence float64 `json:"confidence"`
			Display    string  `json:"display"`
		} `json:"nBest"`
	} `json:"recognizedPhrases"`
}

func parseAzure(raw json.RawMessage) (*rawResult, error) {
	var az azureRaw
	if err := json.Unmarshal(raw, &az); err != nil {
		return nil, err
	}

	res := &rawResult{duration: parseISODuration(az.Duration)}
	if len(az.CombinedRecognizedPhrases) > 0 {
		res.text = az.CombinedRecognizedPhrases[0].Display
	}

	for _, p := range az.RecognizedPhrases {
		if p.RecognitionStatus != "" && p.RecognitionStatus != "Success" {
			continue
		}
		if len(p.NBest) == 0 {
			continue
		}
		if res.language == "" {
			res.language = p.Locale
		}

		start := p.OffsetInTicks / ticksPerSecond
		end := start + p.DurationInTicks/ticksPerSecond
		speaker := ""
		if p.Speaker > 0 {
			speaker = speakerLabel(p.Speaker)
		}
		res.words = append(res.words, word{
			text:       p.NBest[0].Display,
			start:      start,
			end:        end,
			speaker:    speaker,
			confidence: p.NBest[0].Confidence,
		})
		if end > res.duration {
			res.duration = end
		}
	}

	return res, nil
}

// parseISODuration handles the "PTxHxMx.xS" durations Azure emits. Returns 0
// for anything it cannot parse.
func parseISODuration(s string) float64 {
	if !strings.HasPrefix(s, "PT") {
		return 0
	}
	s = s[2:]

	total := 0.0
	num := ""
	for _, r := range s {
		switch r {
		case 'H':
			total += atof(num) * 3600
			num = ""
		case 'M':
			total += atof(num) * 60
			num = ""
		case 'S':
			total += atof(num)
			num = ""
		default:
			num += string(r)
		}
	}
	return total
}
