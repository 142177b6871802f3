package normalize

import (
	"encoding/json"
	"strconv"
)

// awsRaw mirrors the Amazon Transcribe output file: flat item list with
// string-encoded times, punctuation as separate items, and speaker labels in
// a parallel segment list.
type awsRaw struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []struct {
			Type         string `json:"type"` // "pronunciation" or "punctuation"
			StartTime    string `json:"start_time"`
			EndTime      string `json:"end_time"`
			Alternatives []struct {
				Content    string `json:"content"`
				Confidence string `json:"confidence"`
			} `json:"alternatives"`
		} `json:"items"`
		SpeakerLabels struct {
			Segments []struct {
				SpeakerLabel string `json:"speaker_label"`
				StartTime    string `json:"start_time"`
				EndTime      string `json:"end_time"`
			} `json:"segments"`
		} `json:"speaker_labels"`
	} `json:"results"`
}

type awsSpan struct {
	label      string
	start, end float64
}

func parseAWS(raw json.RawMessage) (*rawResult, error) {
	var ar awsRaw
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, err
	}

	spans := make([]awsSpan, 0, len(ar.Results.SpeakerLabels.Segments))
	for _, s := range ar.Results.SpeakerLabels.Segments {
		spans = append(spans, awsSpan{
			label: s.SpeakerLabel,
			start: atof(s.StartTime),
			end:   atof(s.EndTime),
		})
	}

	res := &rawResult{}
	if len(ar.Results.Transcripts) > 0 {
		res.text = ar.Results.Transcripts[0].Transcript
	}

	for _, item := range ar.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content

		// Punctuation items carry no timing; glue them onto the previous word.
		if item.Type == "punctuation" {
			if n := len(res.words); n > 0 {
				res.words[n-1].text += content
			}
			continue
		}

		start := atof(item.StartTime)
		end := atof(item.EndTime)
		res.words = append(res.words, word{
			text:       content,
			start:      start,
			end:        end,
			speaker:    speakerAt((start+end)/2, spans),
			confidence: atof(item.Alternatives[0].Confidence),
		})
		if end > res.duration {
			res.duration = end
		}
	}

	return res, nil
}

// speakerAt finds the speaker span containing t, falling back to the nearest
// span by start time so boundary words do not fragment segments. Returns ""
// when the result carries no diarization at all.
func speakerAt(t float64, spans []awsSpan) string {
	if len(spans) == 0 {
		return ""
	}
	for _, s := range spans {
		if t >= s.start && t <= s.end {
			return s.label
		}
	}

	best := 0
	bestDist := abs(t - spans[0].start)
	for i := 1; i < len(spans); i++ {
		if d := abs(t - spans[i].start); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return spans[best].label
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
