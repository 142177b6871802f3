package provider

import (
	"fmt"

	"github.com/google/uuid"
)

const resourcePrefix = "audio-transcription"

// uniqueObjectName builds a remote object name like
// "audio-transcription-3f9a1c2b.wav".
func uniqueObjectName(ext string) string {
	return fmt.Sprintf("%s-%s.%s", resourcePrefix, shortID(), ext)
}

// uniqueJobName builds a remote job name like "transcription-<uuid>".
func uniqueJobName() string {
	return "transcription-" + uuid.NewString()
}

func shortID() string {
	return uuid.NewString()[:8]
}
