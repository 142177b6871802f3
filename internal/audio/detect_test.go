package audio

import (
	"bytes"
	"testing"
)

func wavHeader() []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVE"), bytes.Repeat([]byte{0}, 32)...)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", wavHeader(), FormatWAV},
		{"mp3_id3", append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), 0, 0), FormatMP3},
		{"mp3_frame_sync", append([]byte{0xff, 0xfb}, bytes.Repeat([]byte{0}, 10)...), FormatMP3},
		{"m4a", append([]byte{0, 0, 0, 0x20}, []byte("ftypM4A \x00\x00\x00\x00")...), FormatM4A},
		{"mp4_isom_brand", append([]byte{0, 0, 0, 0x18}, []byte("ftypisom\x00\x00\x00\x00")...), FormatM4A},
		{"flac", append([]byte("fLaC"), bytes.Repeat([]byte{0}, 8)...), FormatFLAC},
		{"ogg", append([]byte("OggS"), bytes.Repeat([]byte{0}, 8)...), FormatOGG},
		{"webm", append([]byte{0x1a, 0x45, 0xdf, 0xa3}, bytes.Repeat([]byte{0}, 8)...), FormatWebM},
		{"riff_without_wave", append([]byte("RIFF\x24\x00\x00\x00AVI "), 0, 0), FormatUnknown},
		{"ftyp_unknown_brand", append([]byte{0, 0, 0, 0x20}, []byte("ftypqt  \x00\x00\x00\x00")...), FormatUnknown},
		{"garbage", []byte("definitely not audio"), FormatUnknown},
		{"too_short", []byte("RIFF"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid_wav", func(t *testing.T) {
		f, err := Validate(wavHeader(), 1<<20)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if f != FormatWAV {
			t.Errorf("format = %q, want wav", f)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := Validate(nil, 1<<20); err == nil {
			t.Error("expected error for empty payload")
		}
	})

	t.Run("oversize", func(t *testing.T) {
		if _, err := Validate(wavHeader(), 8); err == nil {
			t.Error("expected error for oversize payload")
		}
	})

	t.Run("unrecognized", func(t *testing.T) {
		if _, err := Validate([]byte("not an audio container"), 1<<20); err == nil {
			t.Error("expected error for unknown format")
		}
	})

	t.Run("corruption_marker", func(t *testing.T) {
		data := append(wavHeader(), []byte("CORRUPTED")...)
		if _, err := Validate(data, 1<<20); err == nil {
			t.Error("expected error for corrupted payload")
		}
	})

	t.Run("no_limit", func(t *testing.T) {
		if _, err := Validate(wavHeader(), 0); err != nil {
			t.Errorf("Validate with no limit: %v", err)
		}
	})
}

func TestEstimateDuration(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 172000)
	if got := EstimateDuration(data, FormatWAV); got != 1.0 {
		t.Errorf("EstimateDuration(172000 bytes, wav) = %v, want 1.0", got)
	}
	if got := EstimateDuration(bytes.Repeat([]byte{0}, 16000), FormatMP3); got != 1.0 {
		t.Errorf("EstimateDuration(16000 bytes, mp3) = %v, want 1.0", got)
	}
	if got := EstimateDuration(data, FormatUnknown); got != 0 {
		t.Errorf("EstimateDuration for unknown format = %v, want 0", got)
	}
}

func TestContentType(t *testing.T) {
	if got := FormatWAV.ContentType(); got != "audio/wav" {
		t.Errorf("ContentType = %q", got)
	}
	if got := FormatUnknown.ContentType(); got != "application/octet-stream" {
		t.Errorf("ContentType for unknown = %q", got)
	}
}

func TestFormatForName(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"call.wav", FormatWAV},
		{"call.MP3", FormatMP3},
		{"call.m4a", FormatM4A},
		{"call.flac", FormatFLAC},
		{"noext", FormatUnknown},
	}
	for _, tt := range tests {
		if got := FormatForName(tt.name); got != tt.want {
			t.Errorf("FormatForName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
