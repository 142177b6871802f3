package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// gcpRaw mirrors a LongRunningRecognizeResponse. Word timings arrive as
// duration strings like "3.100s"; diarized speaker tags are integers on each
// word.
type gcpRaw struct {
	Results []struct {
		LanguageCode string `json:"languageCode"`
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				StartTime  string  `json:"startTime"`
				EndTime    string  `json:"endTime"`
				Word       string  `json:"word"`
				Confidence float64 `json:"confidence"`
				SpeakerTag int     `json:"speakerTag"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"results"`
	TotalBilledTime string `json:"totalBilledTime"`
}

func parseGCP(raw json.RawMessage) (*rawResult, error) {
	var gr gcpRaw
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, err
	}

	res := &rawResult{duration: parseSeconds(gr.TotalBilledTime)}

	// When diarization is on, the final result repeats every word with its
	// speaker tag; take words from that result alone to avoid double-counting.
	// Without diarization each result covers its own utterance and words
	// accumulate from all of them.
	wordResult := -1
	for i := len(gr.Results) - 1; i >= 0; i-- {
		alts := gr.Results[i].Alternatives
		if len(alts) == 0 || len(alts[0].Words) == 0 {
			continue
		}
		for _, w := range alts[0].Words {
			if w.SpeakerTag > 0 {
				wordResult = i
				break
			}
		}
		break
	}

	var texts []string
	for i, r := range gr.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if res.language == "" {
			res.language = r.LanguageCode
		}
		if i != wordResult && alt.Transcript != "" {
			texts = append(texts, strings.TrimSpace(alt.Transcript))
		}
		if wordResult >= 0 && i != wordResult {
			continue
		}

		for _, w := range alt.Words {
			conf := w.Confidence
			if conf == 0 {
				conf = alt.Confidence
			}
			speaker := ""
			if w.SpeakerTag > 0 {
				speaker = speakerLabel(w.SpeakerTag)
			}
			end := parseSeconds(w.EndTime)
			res.words = append(res.words, word{
				text:       w.Word,
				start:      parseSeconds(w.StartTime),
				end:        end,
				speaker:    speaker,
				confidence: conf,
			})
			if end > res.duration {
				res.duration = end
			}
		}
	}

	res.text = strings.TrimSpace(strings.Join(texts, " "))
	if res.text == "" && wordResult >= 0 {
		res.text = strings.TrimSpace(gr.Results[wordResult].Alternatives[0].Transcript)
	}
	return res, nil
}

// speakerLabel formats a numeric speaker tag the way the canonical shape
// expects ("spk_1", "spk_2", ...).
func speakerLabel(tag int) string {
	return fmt.Sprintf("spk_%d", tag)
}

// parseSeconds parses protobuf duration strings like "3.100s".
func parseSeconds(s string) float64 {
	return atof(strings.TrimSuffix(s, "s"))
}
