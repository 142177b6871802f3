package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	transcribetypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/config"
)

// AWSAdapter implements Adapter on Amazon S3 + Amazon Transcribe.
// Audio is uploaded to S3, Transcribe reads it via an s3:// URI, and the
// finished transcript JSON is downloaded from the job's TranscriptFileUri.
type AWSAdapter struct {
	s3client   *s3.Client
	transcribe *transcribe.Client
	bucket     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewAWSAdapter creates an AWS adapter from config.
func NewAWSAdapter(cfg config.AWSConfig, log zerolog.Logger) (*AWSAdapter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &AWSAdapter{
		s3client:   s3.NewFromConfig(awsCfg, s3Opts...),
		transcribe: transcribe.NewFromConfig(awsCfg),
		bucket:     cfg.Bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "aws-adapter").Logger(),
	}, nil
}

// Name returns the provider identifier.
func (a *AWSAdapter) Name() string { return "aws" }

// Upload puts the audio bytes into the configured S3 bucket.
func (a *AWSAdapter) Upload(ctx context.Context, audio []byte, contentType string) (Resource, error) {
	key := uniqueObjectName(extForContentType(contentType))
	_, err := a.s3client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(audio),
		ContentType: &contentType,
	})
	if err != nil {
		return Resource{}, NewError(classifyAWS(err, KindUpload), fmt.Errorf("s3 put: %w", err))
	}
	a.log.Debug().Str("bucket", a.bucket).Str("key", key).Int("bytes", len(audio)).Msg("audio uploaded")
	return Resource{Bucket: a.bucket, Key: key}, nil
}

// Start launches a Transcribe job reading the uploaded S3 object.
func (a *AWSAdapter) Start(ctx context.Context, res Resource, opts StartOptions) (string, error) {
	jobName := uniqueJobName()
	mediaURI := fmt.Sprintf("s3://%s/%s", res.Bucket, res.Key)

	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: &jobName,
		Media:                &transcribetypes.Media{MediaFileUri: &mediaURI},
		MediaFormat:          transcribetypes.MediaFormat(formatForKey(res.Key)),
		LanguageCode:         transcribetypes.LanguageCode(opts.Language),
	}
	if opts.Diarization {
		maxSpeakers := int32(opts.MaxSpeakers)
		if maxSpeakers <= 0 {
			maxSpeakers = 5
		}
		input.Settings = &transcribetypes.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  &maxSpeakers,
		}
	}

	if _, err := a.transcribe.StartTranscriptionJob(ctx, input); err != nil {
		return "", NewError(classifyAWS(err, KindNetwork), fmt.Errorf("start transcription job: %w", err))
	}
	a.log.Debug().Str("job", jobName).Str("media_uri", mediaURI).Msg("transcription job started")
	return jobName, nil
}

// Poll reports the remote job state.
func (a *AWSAdapter) Poll(ctx context.Context, jobID string) (Status, error) {
	out, err := a.transcribe.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: &jobID,
	})
	if err != nil {
		return Status{}, NewError(classifyAWS(err, KindNetwork), fmt.Errorf("get transcription job: %w", err))
	}

	job := out.TranscriptionJob
	st := Status{Progress: -1}
	switch job.TranscriptionJobStatus {
	case transcribetypes.TranscriptionJobStatusQueued:
		st.State = StateQueued
	case transcribetypes.TranscriptionJobStatusInProgress:
		st.State = StateRunning
	case transcribetypes.TranscriptionJobStatusCompleted:
		st.State = StateSucceeded
	case transcribetypes.TranscriptionJobStatusFailed:
		st.State = StateFailed
		if job.FailureReason != nil {
			st.Message = *job.FailureReason
		}
	default:
		st.State = StateRunning
	}
	return st, nil
}

// Fetch downloads the transcript JSON from the job's TranscriptFileUri.
func (a *AWSAdapter) Fetch(ctx context.Context, jobID string) (json.RawMessage, error) {
	out, err := a.transcribe.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: &jobID,
	})
	if err != nil {
		return nil, NewError(classifyAWS(err, KindNetwork), fmt.Errorf("get transcription job: %w", err))
	}

	job := out.TranscriptionJob
	if job.TranscriptionJobStatus != transcribetypes.TranscriptionJobStatusCompleted ||
		job.Transcript == nil || job.Transcript.TranscriptFileUri == nil {
		return nil, Errorf(KindResultUnavailable, "job %s has no transcript yet", jobID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *job.Transcript.TranscriptFileUri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, Errorf(KindNetwork, "download transcript: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Errorf(KindNetwork, "read transcript: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("download transcript", resp.StatusCode, body)
	}
	return json.RawMessage(body), nil
}

// Cleanup deletes the S3 object and the Transcribe job.
func (a *AWSAdapter) Cleanup(ctx context.Context, res Resource, jobID string) error {
	var firstErr error
	if res.Key != "" {
		_, err := a.s3client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &res.Bucket,
			Key:    &res.Key,
		})
		if err != nil {
			firstErr = fmt.Errorf("s3 delete: %w", err)
		}
	}
	if jobID != "" {
		_, err := a.transcribe.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
			TranscriptionJobName: &jobID,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete transcription job: %w", err)
		}
	}
	return firstErr
}

// classifyAWS maps AWS API error codes onto the taxonomy, falling back to
// dflt for unrecognized failures.
func classifyAWS(err error, dflt Kind) Kind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return dflt
	}
	switch apiErr.ErrorCode() {
	case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException", "AuthFailure":
		return KindAuth
	case "LimitExceededException", "ThrottlingException", "TooManyRequestsException", "SlowDown":
		return KindQuotaExceeded
	}
	return dflt
}

func formatForKey(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[i+1:]
		}
	}
	return "wav"
}

func extForContentType(contentType string) string {
	switch contentType {
	case "audio/mpeg":
		return "mp3"
	case "audio/flac":
		return "flac"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4":
		return "m4a"
	case "audio/webm":
		return "webm"
	default:
		return "wav"
	}
}
