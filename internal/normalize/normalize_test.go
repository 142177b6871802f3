package normalize

import (
	"encoding/json"
	"reflect"
	"testing"
)

// awsResult builds a minimal Transcribe result file from (word, start, end,
// speaker, confidence) tuples.
func awsResult(t *testing.T, transcript string, items [][5]string) json.RawMessage {
	t.Helper()

	type alt struct {
		Content    string `json:"content"`
		Confidence string `json:"confidence"`
	}
	type item struct {
		Type         string `json:"type"`
		StartTime    string `json:"start_time,omitempty"`
		EndTime      string `json:"end_time,omitempty"`
		Alternatives []alt  `json:"alternatives"`
	}
	type span struct {
		SpeakerLabel string `json:"speaker_label"`
		StartTime    string `json:"start_time"`
		EndTime      string `json:"end_time"`
	}

	var out struct {
		Results struct {
			Transcripts []struct {
				Transcript string `json:"transcript"`
			} `json:"transcripts"`
			Items         []item `json:"items"`
			SpeakerLabels struct {
				Segments []span `json:"segments"`
			} `json:"speaker_labels"`
		} `json:"results"`
	}
	out.Results.Transcripts = []struct {
		Transcript string `json:"transcript"`
	}{{Transcript: transcript}}

	var spans []span
	for _, it := range items {
		out.Results.Items = append(out.Results.Items, item{
			Type:         "pronunciation",
			StartTime:    it[1],
			EndTime:      it[2],
			Alternatives: []alt{{Content: it[0], Confidence: it[4]}},
		})
		if it[3] != "" {
			spans = append(spans, span{SpeakerLabel: it[3], StartTime: it[1], EndTime: it[2]})
		}
	}
	out.Results.SpeakerLabels.Segments = spans

	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}

func TestNormalize_AWS_SingleUnlabeledSegment(t *testing.T) {
	// No speaker labels at all: one segment, no speaker.
	raw := awsResult(t, "hello world", [][5]string{
		{"hello", "0.0", "0.5", "", "0.9"},
		{"world", "0.6", "1.0", "", "0.8"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(tr.Segments))
	}
	if tr.Segments[0].Speaker != "" {
		t.Errorf("Speaker = %q, want unset", tr.Segments[0].Speaker)
	}
	if tr.Segments[0].Start != 0.0 || tr.Segments[0].End != 1.0 {
		t.Errorf("segment span = [%v, %v], want [0, 1]", tr.Segments[0].Start, tr.Segments[0].End)
	}
	if tr.Text != "hello world" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello world")
	}
}

func TestNormalize_AWS_SpeakerSegments(t *testing.T) {
	raw := awsResult(t, "hi there general Kenobi", [][5]string{
		{"hi", "0.0", "0.4", "spk_0", "0.95"},
		{"there", "0.5", "0.9", "spk_0", "0.95"},
		{"general", "2.0", "2.5", "spk_1", "0.90"},
		{"Kenobi", "2.6", "3.0", "spk_1", "0.90"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(tr.Segments))
	}
	if tr.Segments[0].Speaker != "spk_0" || tr.Segments[1].Speaker != "spk_1" {
		t.Errorf("speakers = %q, %q", tr.Segments[0].Speaker, tr.Segments[1].Speaker)
	}
	if tr.Segments[0].Text != "Hi there." {
		t.Errorf("segment 0 text = %q, want %q", tr.Segments[0].Text, "Hi there.")
	}
	if tr.Segments[1].Text != "General Kenobi." {
		t.Errorf("segment 1 text = %q, want %q", tr.Segments[1].Text, "General Kenobi.")
	}
}

func TestNormalize_SegmentsSortedNonOverlapping(t *testing.T) {
	// Out-of-order words from two speakers.
	raw := awsResult(t, "", [][5]string{
		{"later", "5.0", "5.5", "spk_1", "0.9"},
		{"first", "0.0", "0.5", "spk_0", "0.9"},
		{"middle", "2.0", "2.5", "spk_0", "0.9"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for i := 1; i < len(tr.Segments); i++ {
		prev, cur := tr.Segments[i-1], tr.Segments[i]
		if cur.Start < prev.Start {
			t.Errorf("segments not sorted: %v before %v", prev.Start, cur.Start)
		}
		if cur.Start < prev.End {
			t.Errorf("segments overlap: [%v,%v] then [%v,%v]", prev.Start, prev.End, cur.Start, cur.End)
		}
	}
}

func TestNormalize_InterleavedSpeakersClampedToNonOverlapping(t *testing.T) {
	// One speaker's span fully covers another's; the later segments are
	// clamped forward so no two segments overlap.
	raw := awsResult(t, "", [][5]string{
		{"one", "0.0", "2.0", "spk_1", "0.9"},
		{"two", "0.5", "1.5", "spk_2", "0.9"},
		{"three", "1.6", "2.5", "spk_1", "0.9"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(tr.Segments), tr.Segments)
	}
	for i := 1; i < len(tr.Segments); i++ {
		prev, cur := tr.Segments[i-1], tr.Segments[i]
		if cur.Start < prev.End {
			t.Errorf("segments overlap: [%v,%v] then [%v,%v]", prev.Start, prev.End, cur.Start, cur.End)
		}
		if cur.End < cur.Start {
			t.Errorf("segment %d runs backwards: [%v,%v]", i, cur.Start, cur.End)
		}
	}
	if tr.Segments[1].Start != 2.0 || tr.Segments[1].End != 2.0 {
		t.Errorf("covered segment = [%v,%v], want clamped to [2, 2]",
			tr.Segments[1].Start, tr.Segments[1].End)
	}
}

func TestNormalize_MergesSmallSameSpeakerGap(t *testing.T) {
	// Same speaker, 0.5s gap: below the 1.0s threshold, must merge.
	raw := awsResult(t, "", [][5]string{
		{"one", "0.0", "1.0", "spk_0", "0.9"},
		{"two", "1.5", "2.5", "spk_0", "0.9"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("expected merged single segment, got %d", len(tr.Segments))
	}
	if tr.Segments[0].Start != 0.0 || tr.Segments[0].End != 2.5 {
		t.Errorf("merged span = [%v, %v], want [0, 2.5]", tr.Segments[0].Start, tr.Segments[0].End)
	}
}

func TestNormalize_KeepsLargeGapSeparate(t *testing.T) {
	raw := awsResult(t, "", [][5]string{
		{"one", "0.0", "1.0", "spk_0", "0.9"},
		{"two", "3.0", "4.0", "spk_0", "0.9"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("expected 2 segments for 2s gap, got %d", len(tr.Segments))
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := awsResult(t, "hi there general Kenobi", [][5]string{
		{"hi", "0.0", "0.4", "spk_0", "0.95"},
		{"there", "0.5", "0.9", "spk_0", "0.92"},
		{"general", "2.0", "2.5", "spk_1", "0.90"},
		{"Kenobi", "2.6", "3.0", "spk_1", "0.88"},
	})

	n := NewNormalizer(1.0)
	first, err := n.Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	second, err := n.Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("normalization not idempotent:\n%s\n%s", a, b)
	}
}

func TestNormalize_ConfidenceLengthWeighted(t *testing.T) {
	// 1s at 1.0 and 3s at 0.5: weighted avg = (1*1 + 0.5*3) / 4 = 0.625.
	raw := awsResult(t, "", [][5]string{
		{"short", "0.0", "1.0", "spk_0", "1.0"},
		{"longer", "1.0", "4.0", "spk_0", "0.5"},
	})

	tr, err := NewNormalizer(1.0).Normalize("aws", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(tr.Segments))
	}
	if got := tr.Segments[0].Confidence; got != 0.625 {
		t.Errorf("Confidence = %v, want 0.625", got)
	}
}

func TestNormalize_Azure_PhraseLevel(t *testing.T) {
	raw := json.RawMessage(`{
		"duration": "PT6S",
		"combinedRecognizedPhrases": [{"display": "Hello there. How are you?"}],
		"recognizedPhrases": [
			{
				"recognitionStatus": "Success",
				"speaker": 1,
				"offsetInTicks": 0,
				"durationInTicks": 20000000,
				"locale": "en-US",
				"nBest": [{"confidence": 0.93, "display": "Hello there."}]
			},
			{
				"recognitionStatus": "Success",
				"speaker": 2,
				"offsetInTicks": 30000000,
				"durationInTicks": 30000000,
				"locale": "en-US",
				"nBest": [{"confidence": 0.88, "display": "How are you?"}]
			}
		]
	}`)

	tr, err := NewNormalizer(1.0).Normalize("azure", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(tr.Segments))
	}
	if tr.Segments[0].Speaker != "spk_1" || tr.Segments[1].Speaker != "spk_2" {
		t.Errorf("speakers = %q, %q", tr.Segments[0].Speaker, tr.Segments[1].Speaker)
	}
	if tr.Segments[0].Start != 0 || tr.Segments[0].End != 2 {
		t.Errorf("segment 0 span = [%v, %v], want [0, 2]", tr.Segments[0].Start, tr.Segments[0].End)
	}
	if tr.Duration != 6 {
		t.Errorf("Duration = %v, want 6", tr.Duration)
	}
	if tr.Language != "en-US" {
		t.Errorf("Language = %q, want en-US", tr.Language)
	}
	if tr.Text != "Hello there. How are you?" {
		t.Errorf("Text = %q", tr.Text)
	}
}

func TestNormalize_GCP_WordLevelDiarization(t *testing.T) {
	raw := json.RawMessage(`{
		"results": [
			{
				"languageCode": "en-us",
				"alternatives": [{
					"transcript": "good morning everyone",
					"confidence": 0.91,
					"words": [
						{"startTime": "0s", "endTime": "0.400s", "word": "good", "speakerTag": 1},
						{"startTime": "0.400s", "endTime": "0.900s", "word": "morning", "speakerTag": 1},
						{"startTime": "3.100s", "endTime": "3.800s", "word": "everyone", "speakerTag": 2}
					]
				}]
			}
		],
		"totalBilledTime": "4s"
	}`)

	tr, err := NewNormalizer(1.0).Normalize("gcp", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(tr.Segments))
	}
	if tr.Segments[0].Speaker != "spk_1" || tr.Segments[1].Speaker != "spk_2" {
		t.Errorf("speakers = %q, %q", tr.Segments[0].Speaker, tr.Segments[1].Speaker)
	}
	// Word-level confidence absent: falls back to alternative confidence.
	if tr.Segments[0].Confidence != 0.91 {
		t.Errorf("Confidence = %v, want 0.91", tr.Segments[0].Confidence)
	}
	if tr.Duration != 4 {
		t.Errorf("Duration = %v, want 4", tr.Duration)
	}
}

func TestNormalize_GCP_MultiResultWithoutDiarization(t *testing.T) {
	// Without diarization each result is its own utterance; words from every
	// result belong to the transcript, not just the last one.
	raw := json.RawMessage(`{
		"results": [
			{
				"languageCode": "en-us",
				"alternatives": [{
					"transcript": "hello world",
					"confidence": 0.9,
					"words": [
						{"startTime": "0s", "endTime": "0.500s", "word": "hello"},
						{"startTime": "0.500s", "endTime": "1s", "word": "world"}
					]
				}]
			},
			{
				"alternatives": [{
					"transcript": "good bye",
					"confidence": 0.8,
					"words": [
						{"startTime": "10s", "endTime": "10.500s", "word": "good"},
						{"startTime": "10.500s", "endTime": "11s", "word": "bye"}
					]
				}]
			}
		]
	}`)

	tr, err := NewNormalizer(1.0).Normalize("gcp", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("expected 1 unlabeled segment, got %d", len(tr.Segments))
	}
	seg := tr.Segments[0]
	if seg.Speaker != "" {
		t.Errorf("Speaker = %q, want unlabeled", seg.Speaker)
	}
	if seg.Start != 0 || seg.End != 11 {
		t.Errorf("segment spans [%v,%v], want [0,11]", seg.Start, seg.End)
	}
	if seg.Text != "Hello world good bye." {
		t.Errorf("Text = %q", seg.Text)
	}
	if tr.Duration != 11 {
		t.Errorf("Duration = %v, want 11", tr.Duration)
	}
}

func TestNormalize_UnknownProvider(t *testing.T) {
	if _, err := NewNormalizer(1.0).Normalize("whisper", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"PT12S", 12},
		{"PT1M30S", 90},
		{"PT1H", 3600},
		{"PT0.5S", 0.5},
		{"", 0},
		{"bogus", 0},
	}
	for _, tt := range tests {
		if got := parseISODuration(tt.in); got != tt.want {
			t.Errorf("parseISODuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPolishText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello  world", "Hello world."},
		{"already done.", "Already done."},
		{"question?", "Question?"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := polishText(tt.in); got != tt.want {
			t.Errorf("polishText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_EmptyResult(t *testing.T) {
	tr, err := NewNormalizer(1.0).Normalize("aws", awsResult(t, "", nil))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tr.Segments) != 0 {
		t.Errorf("expected no segments, got %d", len(tr.Segments))
	}
	if !reflect.DeepEqual(tr.Segments, []SpeakerSegment{}) {
		t.Errorf("Segments should be empty slice, not nil")
	}
}
