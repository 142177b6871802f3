package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Transcript is the canonical, provider-independent result shape. It is
// created once by Normalize and never mutated afterwards.
type Transcript struct {
	Text         string           `json:"text"`
	Segments     []SpeakerSegment `json:"segments"`
	Language     string           `json:"language,omitempty"`
	Duration     float64          `json:"duration"` // seconds
	Provider     string           `json:"provider"`
	CostEstimate float64          `json:"cost_estimate,omitempty"`
}

// SpeakerSegment is one contiguous utterance attributed to a speaker.
// Speaker is empty when the provider returned no diarization.
type SpeakerSegment struct {
	Speaker    string  `json:"speaker_label,omitempty"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// word is the common unit extracted from any provider's raw result. For
// phrase-level providers (Azure) a "word" is a whole phrase; the segment
// pipeline does not care.
type word struct {
	text       string
	start      float64
	end        float64
	speaker    string // "" = no diarization info
	confidence float64
}

// rawResult is the provider-neutral intermediate form parsers produce.
type rawResult struct {
	words    []word
	text     string // provider's full combined text, may be empty
	language string
	duration float64
}

// Normalizer converts raw provider results into canonical Transcripts.
// Normalization is deterministic: the same raw input always yields the same
// Transcript.
type Normalizer struct {
	// MergeGap is the maximum silence, in seconds, across which two adjacent
	// segments of the same speaker are merged. Compensates for providers
	// that over-segment short pauses.
	MergeGap float64
}

// NewNormalizer returns a Normalizer with the given merge gap.
func NewNormalizer(mergeGap float64) *Normalizer {
	return &Normalizer{MergeGap: mergeGap}
}

// Normalize parses the provider-specific raw result and builds the canonical
// Transcript: words grouped into same-speaker segments, sorted by start time,
// small same-speaker gaps merged, per-segment confidence length-weighted.
func (n *Normalizer) Normalize(providerName string, raw json.RawMessage) (*Transcript, error) {
	var (
		res *rawResult
		err error
	)
	switch providerName {
	case "aws":
		res, err = parseAWS(raw)
	case "azure":
		res, err = parseAzure(raw)
	case "gcp":
		res, err = parseGCP(raw)
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s result: %w", providerName, err)
	}

	segments := n.buildSegments(res)
	duration := res.duration
	if duration == 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	text := res.text
	if text == "" {
		parts := make([]string, len(segments))
		for i, s := range segments {
			parts[i] = s.Text
		}
		text = strings.Join(parts, " ")
	}

	return &Transcript{
		Text:     strings.TrimSpace(text),
		Segments: segments,
		Language: res.language,
		Duration: duration,
		Provider: providerName,
	}, nil
}

// buildSegments sorts words by start time and groups them into segments. A
// new segment opens when the speaker changes or the same speaker pauses for
// MergeGap seconds or more. Words without any speaker info collapse into a
// single unlabeled segment spanning the whole transcript.
func (n *Normalizer) buildSegments(res *rawResult) []SpeakerSegment {
	if len(res.words) == 0 {
		return []SpeakerSegment{}
	}

	words := make([]word, len(res.words))
	copy(words, res.words)
	sort.SliceStable(words, func(i, j int) bool { return words[i].start < words[j].start })

	if !diarized(words) {
		cur := segmentFrom(words[0])
		for _, w := range words[1:] {
			cur.absorb(w)
		}
		return []SpeakerSegment{cur.finish()}
	}

	var segments []SpeakerSegment
	cur := segmentFrom(words[0])
	for _, w := range words[1:] {
		if w.speaker == cur.speaker && w.start-cur.end < n.MergeGap {
			cur.absorb(w)
			continue
		}
		prev := cur.finish()
		segments = append(segments, prev)
		cur = segmentFrom(w)
		// Speaker spans can interleave in time; clamp so segments never
		// overlap.
		if cur.start < prev.End {
			cur.start = prev.End
			if cur.end < cur.start {
				cur.end = cur.start
			}
		}
	}
	segments = append(segments, cur.finish())
	return segments
}

func diarized(words []word) bool {
	for _, w := range words {
		if w.speaker != "" {
			return true
		}
	}
	return false
}

// builder accumulates one segment's words.
type builder struct {
	speaker    string
	start, end float64
	texts      []string
	confSum    float64 // sum of confidence * word duration
	lenSum     float64 // sum of word durations
	confAvg    float64 // plain average fallback when durations are zero
	count      int
}

func segmentFrom(w word) builder {
	b := builder{speaker: w.speaker, start: w.start, end: w.end}
	b.absorb(w)
	return b
}

func (b *builder) absorb(w word) {
	if w.end > b.end {
		b.end = w.end
	}
	b.texts = append(b.texts, w.text)
	d := w.end - w.start
	b.confSum += w.confidence * d
	b.lenSum += d
	b.confAvg += w.confidence
	b.count++
}

func (b *builder) finish() SpeakerSegment {
	conf := 0.0
	if b.lenSum > 0 {
		conf = b.confSum / b.lenSum
	} else if b.count > 0 {
		conf = b.confAvg / float64(b.count)
	}
	return SpeakerSegment{
		Speaker:    b.speaker,
		Start:      b.start,
		End:        b.end,
		Text:       polishText(strings.Join(b.texts, " ")),
		Confidence: round4(conf),
	}
}

// polishText applies the readability fixes from the reference pipeline:
// collapse whitespace, capitalize the first letter, and close the segment
// with a period when it ends without punctuation.
func polishText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return s
	}

	runes := []rune(s)
	first := strings.ToUpper(string(runes[0]))
	s = first + string(runes[1:])

	switch s[len(s)-1] {
	case '.', '!', '?', ',', ';', ':', '-':
	default:
		s += "."
	}
	return s
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}
