package audio

import (
	"bytes"
	"fmt"
	"strings"
)

// Format is a detected audio container format.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatM4A     Format = "m4a"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatUnknown Format = ""
)

// Approximate bytes per second of audio per container, used to estimate
// duration when no decoder is available. WAV assumes 16-bit 44.1kHz mono,
// MP3/M4A a 128kbps stream, FLAC roughly 60% of raw PCM.
var bytesPerSecond = map[Format]float64{
	FormatWAV:  172000,
	FormatMP3:  16000,
	FormatM4A:  16000,
	FormatFLAC: 103000,
	FormatOGG:  16000,
	FormatWebM: 16000,
}

// MIME content types per format, used when uploading to provider storage.
var contentTypes = map[Format]string{
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatM4A:  "audio/mp4",
	FormatFLAC: "audio/flac",
	FormatOGG:  "audio/ogg",
	FormatWebM: "audio/webm",
}

// Detect sniffs the container format from the file's magic bytes. Returns
// FormatUnknown when no signature matches.
func Detect(data []byte) Format {
	if len(data) < 12 {
		return FormatUnknown
	}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case data[0] == 0xff && (data[1] == 0xfb || data[1] == 0xf3 || data[1] == 0xf2):
		return FormatMP3
	case bytes.Equal(data[4:8], []byte("ftyp")):
		brand := string(data[8:12])
		if brand == "M4A " || brand == "mp42" || brand == "isom" || brand == "mp41" {
			return FormatM4A
		}
		return FormatUnknown
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return FormatWebM
	}
	return FormatUnknown
}

// ContentType returns the MIME type for a detected format, or
// "application/octet-stream" for unknown formats.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// EstimateDuration guesses the audio length in seconds from the payload size
// and the format's typical bitrate. Good enough for cost estimates and
// speaker-count heuristics; not for billing-grade accuracy.
func EstimateDuration(data []byte, f Format) float64 {
	bps, ok := bytesPerSecond[f]
	if !ok || bps == 0 {
		return 0
	}
	return float64(len(data)) / bps
}

// Validate checks an uploaded payload before any provider work starts.
// Rejects empty payloads, payloads over maxBytes, unrecognized containers,
// and files carrying an explicit corruption marker.
func Validate(data []byte, maxBytes int64) (Format, error) {
	if len(data) == 0 {
		return FormatUnknown, fmt.Errorf("empty audio payload")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return FormatUnknown, fmt.Errorf("audio payload %d bytes exceeds limit %d", len(data), maxBytes)
	}

	f := Detect(data)
	if f == FormatUnknown {
		return FormatUnknown, fmt.Errorf("unrecognized audio format")
	}
	if bytes.Contains(data, []byte("CORRUPTED")) {
		return f, fmt.Errorf("audio payload is corrupted")
	}
	return f, nil
}

// FormatForName maps a filename extension to a Format, for callers that
// only have a name. Detection from bytes is preferred.
func FormatForName(name string) Format {
	switch strings.ToLower(extOf(name)) {
	case "wav":
		return FormatWAV
	case "mp3":
		return FormatMP3
	case "m4a", "mp4":
		return FormatM4A
	case "flac":
		return FormatFLAC
	case "ogg":
		return FormatOGG
	case "webm":
		return FormatWebM
	}
	return FormatUnknown
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
