package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/config"
)

// AzureAdapter implements Adapter on Azure Blob Storage + the Speech batch
// transcription v3.1 REST API. Blobs are written through a container-scoped
// SAS URL; the Speech service reads the audio through the same URL.
type AzureAdapter struct {
	speechKey string
	endpoint  string // https://{region}.api.cognitive.microsoft.com/speechtotext/v3.1
	storeURL  string // https://{account}.blob.core.windows.net
	sas       string // SAS query string, without leading "?"
	container string
	client    *http.Client
	log       zerolog.Logger
}

// NewAzureAdapter creates an Azure adapter from config.
func NewAzureAdapter(cfg config.AzureConfig, log zerolog.Logger) *AzureAdapter {
	return &AzureAdapter{
		speechKey: cfg.SpeechKey,
		endpoint:  fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/v3.1", cfg.Region),
		storeURL:  cfg.StorageURL,
		sas:       cfg.StorageSAS,
		container: cfg.Container,
		client:    &http.Client{Timeout: cfg.ClientTimeout},
		log:       log.With().Str("component", "azure-adapter").Logger(),
	}
}

// Name returns the provider identifier.
func (az *AzureAdapter) Name() string { return "azure" }

func (az *AzureAdapter) blobURL(key string) string {
	return fmt.Sprintf("%s/%s/%s?%s", az.storeURL, az.container, key, az.sas)
}

// Upload puts the audio bytes into the configured blob container.
func (az *AzureAdapter) Upload(ctx context.Context, audio []byte, contentType string) (Resource, error) {
	key := uniqueObjectName(extForContentType(contentType))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, az.blobURL(key), bytes.NewReader(audio))
	if err != nil {
		return Resource{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Content-Type", contentType)

	resp, err := az.client.Do(req)
	if err != nil {
		return Resource{}, Errorf(KindUpload, "blob put: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return Resource{}, httpError("blob put", resp.StatusCode, body)
	}

	az.log.Debug().Str("container", az.container).Str("blob", key).Int("bytes", len(audio)).Msg("audio uploaded")
	return Resource{Bucket: az.container, Key: key}, nil
}

// transcriptionRequest is the batch transcription creation body.
type transcriptionRequest struct {
	ContentURLs []string       `json:"contentUrls"`
	Locale      string         `json:"locale"`
	DisplayName string         `json:"displayName"`
	Properties  map[string]any `json:"properties"`
}

// transcriptionInfo is the subset of the v3.1 transcription object we read.
type transcriptionInfo struct {
	Self       string `json:"self"`
	Status     string `json:"status"`
	Properties struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
}

// Start creates a batch transcription reading the uploaded blob. The
// returned job id is the transcription's self URL, which every subsequent
// call addresses directly.
func (az *AzureAdapter) Start(ctx context.Context, res Resource, opts StartOptions) (string, error) {
	props := map[string]any{
		"diarizationEnabled":         opts.Diarization,
		"wordLevelTimestampsEnabled": true,
		"punctuationMode":            "Automatic",
		"profanityFilterMode":        "None",
	}
	if opts.Diarization {
		maxSpeakers := opts.MaxSpeakers
		if maxSpeakers <= 0 {
			maxSpeakers = 5
		}
		props["diarization"] = map[string]any{
			"speakers": map[string]any{"maxCount": maxSpeakers},
		}
	}

	body, err := json.Marshal(transcriptionRequest{
		ContentURLs: []string{az.blobURL(res.Key)},
		Locale:      opts.Language,
		DisplayName: uniqueJobName(),
		Properties:  props,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, az.endpoint+"/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	az.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := az.client.Do(req)
	if err != nil {
		return "", Errorf(KindNetwork, "create transcription: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Errorf(KindNetwork, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", httpError("create transcription", resp.StatusCode, respBody)
	}

	var info transcriptionInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if info.Self == "" {
		return "", Errorf(KindNetwork, "create transcription: response missing self URL")
	}

	az.log.Debug().Str("self", info.Self).Msg("transcription job started")
	return info.Self, nil
}

// Poll reports the remote job state.
func (az *AzureAdapter) Poll(ctx context.Context, jobID string) (Status, error) {
	var info transcriptionInfo
	if err := az.getJSON(ctx, jobID, &info); err != nil {
		return Status{}, err
	}

	st := Status{Progress: -1}
	switch info.Status {
	case "NotStarted":
		st.State = StateQueued
	case "Running":
		st.State = StateRunning
	case "Succeeded":
		st.State = StateSucceeded
	case "Failed", "Cancelled":
		st.State = StateFailed
		st.Message = info.Properties.Error.Message
		if st.Message == "" {
			st.Message = info.Status
		}
	default:
		st.State = StateRunning
	}
	return st, nil
}

// transcriptionFiles is the /files listing of a finished transcription.
type transcriptionFiles struct {
	Values []struct {
		Kind  string `json:"kind"`
		Links struct {
			ContentURL string `json:"contentUrl"`
		} `json:"links"`
	} `json:"values"`
}

// Fetch lists the transcription's result files and downloads the first
// "Transcription" entry.
func (az *AzureAdapter) Fetch(ctx context.Context, jobID string) (json.RawMessage, error) {
	var files transcriptionFiles
	if err := az.getJSON(ctx, jobID+"/files", &files); err != nil {
		return nil, err
	}

	contentURL := ""
	for _, f := range files.Values {
		if f.Kind == "Transcription" {
			contentURL = f.Links.ContentURL
			break
		}
	}
	if contentURL == "" {
		return nil, Errorf(KindResultUnavailable, "transcription has no result file yet")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := az.client.Do(req)
	if err != nil {
		return nil, Errorf(KindNetwork, "download result: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Errorf(KindNetwork, "read result: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("download result", resp.StatusCode, body)
	}
	return json.RawMessage(body), nil
}

// Cleanup deletes the audio blob and the transcription job.
func (az *AzureAdapter) Cleanup(ctx context.Context, res Resource, jobID string) error {
	var firstErr error
	if res.Key != "" {
		if err := az.doDelete(ctx, az.blobURL(res.Key), false); err != nil {
			firstErr = fmt.Errorf("delete blob: %w", err)
		}
	}
	if jobID != "" {
		if err := az.doDelete(ctx, jobID, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete transcription: %w", err)
		}
	}
	return firstErr
}

func (az *AzureAdapter) authorize(req *http.Request) {
	req.Header.Set("Ocp-Apim-Subscription-Key", az.speechKey)
}

func (az *AzureAdapter) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	az.authorize(req)

	resp, err := az.client.Do(req)
	if err != nil {
		return Errorf(KindNetwork, "azure request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Errorf(KindNetwork, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpError("azure request", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (az *AzureAdapter) doDelete(ctx context.Context, url string, auth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	if auth {
		az.authorize(req)
	}
	resp, err := az.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
