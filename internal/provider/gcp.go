package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/config"
)

// GCPAdapter implements Adapter on Google Cloud Storage + the Speech-to-Text
// v1 REST API. Recognition runs as a long-running operation whose final
// response carries the result inline, so Fetch re-reads the operation rather
// than downloading a separate artifact.
type GCPAdapter struct {
	projectID  string
	bucket     string
	token      string
	storageURL string // https://storage.googleapis.com
	speechURL  string // https://speech.googleapis.com/v1
	client     *http.Client
	log        zerolog.Logger
}

// NewGCPAdapter creates a GCP adapter from config.
func NewGCPAdapter(cfg config.GCPConfig, log zerolog.Logger) *GCPAdapter {
	return &GCPAdapter{
		projectID:  cfg.ProjectID,
		bucket:     cfg.Bucket,
		token:      cfg.AccessToken,
		storageURL: "https://storage.googleapis.com",
		speechURL:  "https://speech.googleapis.com/v1",
		client:     &http.Client{Timeout: cfg.ClientTimeout},
		log:        log.With().Str("component", "gcp-adapter").Logger(),
	}
}

// Name returns the provider identifier.
func (g *GCPAdapter) Name() string { return "gcp" }

// Upload writes the audio bytes into the configured GCS bucket via the JSON
// media upload API.
func (g *GCPAdapter) Upload(ctx context.Context, audio []byte, contentType string) (Resource, error) {
	key := uniqueObjectName(extForContentType(contentType))
	uploadURL := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		g.storageURL, g.bucket, url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(audio))
	if err != nil {
		return Resource{}, fmt.Errorf("create request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return Resource{}, Errorf(KindUpload, "gcs upload: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Resource{}, httpError("gcs upload", resp.StatusCode, body)
	}

	g.log.Debug().Str("bucket", g.bucket).Str("object", key).Int("bytes", len(audio)).Msg("audio uploaded")
	return Resource{Bucket: g.bucket, Key: key}, nil
}

// recognizeRequest is the longrunningrecognize request body.
type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  struct {
		URI string `json:"uri"`
	} `json:"audio"`
}

type recognizeConfig struct {
	LanguageCode          string             `json:"languageCode"`
	EnableWordTimeOffsets bool               `json:"enableWordTimeOffsets"`
	EnableAutomaticPunct  bool               `json:"enableAutomaticPunctuation"`
	DiarizationConfig     *diarizationConfig `json:"diarizationConfig,omitempty"`
}

type diarizationConfig struct {
	EnableSpeakerDiarization bool `json:"enableSpeakerDiarization"`
	MaxSpeakerCount          int  `json:"maxSpeakerCount,omitempty"`
}

// operation is the subset of a google.longrunning.Operation we read.
type operation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		ProgressPercent int `json:"progressPercent"`
	} `json:"metadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response json.RawMessage `json:"response"`
}

// Start launches a long-running recognition over the uploaded object. The
// returned job id is the operation name.
func (g *GCPAdapter) Start(ctx context.Context, res Resource, opts StartOptions) (string, error) {
	reqBody := recognizeRequest{
		Config: recognizeConfig{
			LanguageCode:          opts.Language,
			EnableWordTimeOffsets: true,
			EnableAutomaticPunct:  true,
		},
	}
	reqBody.Audio.URI = fmt.Sprintf("gs://%s/%s", res.Bucket, res.Key)
	if opts.Diarization {
		maxSpeakers := opts.MaxSpeakers
		if maxSpeakers <= 0 {
			maxSpeakers = 5
		}
		reqBody.Config.DiarizationConfig = &diarizationConfig{
			EnableSpeakerDiarization: true,
			MaxSpeakerCount:          maxSpeakers,
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.speechURL+"/speech:longrunningrecognize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", Errorf(KindNetwork, "longrunningrecognize: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Errorf(KindNetwork, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpError("longrunningrecognize", resp.StatusCode, respBody)
	}

	var op operation
	if err := json.Unmarshal(respBody, &op); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if op.Name == "" {
		return "", Errorf(KindNetwork, "longrunningrecognize: response missing operation name")
	}

	g.log.Debug().Str("operation", op.Name).Str("uri", reqBody.Audio.URI).Msg("recognition started")
	return op.Name, nil
}

// Poll reads the operation state.
func (g *GCPAdapter) Poll(ctx context.Context, jobID string) (Status, error) {
	op, err := g.getOperation(ctx, jobID)
	if err != nil {
		return Status{}, err
	}

	st := Status{Progress: -1}
	switch {
	case op.Done && op.Error != nil:
		st.State = StateFailed
		st.Message = op.Error.Message
	case op.Done:
		st.State = StateSucceeded
	case op.Metadata.ProgressPercent == 0:
		st.State = StateQueued
	default:
		st.State = StateRunning
		st.Progress = op.Metadata.ProgressPercent
	}
	return st, nil
}

// Fetch returns the operation's inline response.
func (g *GCPAdapter) Fetch(ctx context.Context, jobID string) (json.RawMessage, error) {
	op, err := g.getOperation(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !op.Done || op.Error != nil || len(op.Response) == 0 {
		return nil, Errorf(KindResultUnavailable, "operation %s has no response yet", jobID)
	}
	return op.Response, nil
}

// Cleanup deletes the GCS object. Google garbage-collects finished
// operations on its own, so only the audio needs removing.
func (g *GCPAdapter) Cleanup(ctx context.Context, res Resource, jobID string) error {
	if res.Key == "" {
		return nil
	}
	deleteURL := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", g.storageURL, res.Bucket, url.PathEscape(res.Key))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return err
	}
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gcs delete: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gcs delete: status %d", resp.StatusCode)
	}
	return nil
}

// Recognize transcribes a short audio clip synchronously via speech:recognize,
// with the content sent inline. Used by streaming sessions, which batch a few
// seconds of audio at a time.
func (g *GCPAdapter) Recognize(ctx context.Context, audio []byte, language string) (string, error) {
	reqBody := struct {
		Config recognizeConfig `json:"config"`
		Audio  struct {
			Content []byte `json:"content"` // base64 via encoding/json
		} `json:"audio"`
	}{
		Config: recognizeConfig{
			LanguageCode:         language,
			EnableAutomaticPunct: true,
		},
	}
	reqBody.Audio.Content = audio

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.speechURL+"/speech:recognize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", Errorf(KindNetwork, "recognize: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Errorf(KindNetwork, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpError("recognize", resp.StatusCode, respBody)
	}

	var result struct {
		Results []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var parts []string
	for _, r := range result.Results {
		if len(r.Alternatives) > 0 && r.Alternatives[0].Transcript != "" {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}
	return strings.Join(parts, " "), nil
}

func (g *GCPAdapter) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.token)
}

func (g *GCPAdapter) getOperation(ctx context.Context, name string) (*operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.speechURL+"/operations/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, Errorf(KindNetwork, "get operation: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Errorf(KindNetwork, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("get operation", resp.StatusCode, body)
	}

	var op operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &op, nil
}
