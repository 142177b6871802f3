package job

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/speecher/stt-engine/internal/clock"
	"github.com/speecher/stt-engine/internal/config"
	"github.com/speecher/stt-engine/internal/normalize"
	"github.com/speecher/stt-engine/internal/pricing"
	"github.com/speecher/stt-engine/internal/provider"
)

// Store persists terminal job snapshots, successful or not. Persistence is
// best-effort: a store failure is logged and never changes the job outcome.
type Store interface {
	SaveTranscript(ctx context.Context, snap Snapshot) error
}

// Options configures an Orchestrator.
type Options struct {
	Adapters   map[string]provider.Adapter
	Normalizer *normalize.Normalizer
	Pricing    *pricing.Table
	Store      Store // optional
	Config     config.JobConfig
	Clock      clock.Clock // optional, defaults to the wall clock
	Logger     zerolog.Logger

	// Sleep replaces the inter-poll wait, for tests. Must honor ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand replaces the jitter source, for tests. Must return [0, 1).
	Rand func() float64
}

// Orchestrator drives transcription jobs through their lifecycle. Safe for
// concurrent use; each job runs on its own goroutine.
type Orchestrator struct {
	adapters   map[string]provider.Adapter
	limits     map[string]*rate.Limiter
	normalizer *normalize.Normalizer
	pricing    *pricing.Table
	store      Store
	cfg        config.JobConfig
	clk        clock.Clock
	sleep      func(ctx context.Context, d time.Duration) error
	random     func() float64
	log        zerolog.Logger
}

// NewOrchestrator wires an Orchestrator from Options.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		adapters:   opts.Adapters,
		normalizer: opts.Normalizer,
		pricing:    opts.Pricing,
		store:      opts.Store,
		cfg:        opts.Config,
		clk:        opts.Clock,
		sleep:      opts.Sleep,
		random:     opts.Rand,
		log:        opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
	if o.clk == nil {
		o.clk = clock.New()
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	if o.random == nil {
		o.random = rand.Float64
	}
	if opts.Config.ProviderCallsPerSec > 0 {
		// One bucket per provider, shared by every job using that adapter.
		burst := int(opts.Config.ProviderCallsPerSec)
		if burst < 1 {
			burst = 1
		}
		o.limits = make(map[string]*rate.Limiter, len(opts.Adapters))
		for name := range opts.Adapters {
			o.limits[name] = rate.NewLimiter(rate.Limit(opts.Config.ProviderCallsPerSec), burst)
		}
	}
	return o
}

// throttle blocks until the provider's shared call budget admits one more
// API call. Distinct from per-job poll backoff.
func (o *Orchestrator) throttle(ctx context.Context, providerName string) error {
	lim := o.limits[providerName]
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Submit creates a Job in the pending state. The caller decides when to Run
// it, typically on a fresh goroutine.
func (o *Orchestrator) Submit(req Request) (*Job, error) {
	if _, ok := o.adapters[req.Provider]; !ok {
		return nil, fmt.Errorf("unknown provider %q", req.Provider)
	}
	return &Job{
		ID:        uuid.New().String(),
		Request:   req,
		status:    StatusPending,
		createdAt: o.clk.Now(),
	}, nil
}

// Run executes the job to a terminal state. Provider resources are cleaned
// up exactly once on any terminal state unless the request retains them;
// cleanup failures are logged and do not change the outcome.
func (o *Orchestrator) Run(ctx context.Context, j *Job) {
	adapter := o.adapters[j.Request.Provider]
	log := o.log.With().Str("job_id", j.ID).Str("provider", j.Request.Provider).Logger()

	j.mu.Lock()
	j.startedAt = o.clk.Now()
	j.mu.Unlock()

	status, kind, errMsg := o.run(ctx, j, adapter, log)

	o.cleanup(j, adapter, log)

	j.mu.Lock()
	j.status = status
	j.errKind = kind
	j.errMsg = errMsg
	j.completedAt = o.clk.Now()
	// The raw audio can run to hundreds of megabytes; nothing reads it
	// after the terminal transition.
	j.Request.Audio = nil
	j.mu.Unlock()

	switch status {
	case StatusCompleted:
		log.Info().Msg("job completed")
	case StatusCancelled:
		log.Info().Msg("job cancelled")
	default:
		log.Warn().Str("error_kind", string(kind)).Str("error", errMsg).Msg("job failed")
	}
	o.persist(j, log)
}

// run walks the job through upload, start, poll, fetch, and normalize, and
// returns the terminal state. It never touches provider resources after
// returning; cleanup belongs to the caller.
func (o *Orchestrator) run(ctx context.Context, j *Job, adapter provider.Adapter, log zerolog.Logger) (Status, provider.Kind, string) {
	deadline := o.clk.Now().Add(o.cfg.Timeout)

	if j.isCancelled() {
		return StatusCancelled, "", ""
	}

	j.setStatus(StatusUploading)
	res, err := o.uploadWithRetry(ctx, j, adapter, log)
	if err != nil {
		return StatusFailed, provider.KindOf(err), err.Error()
	}
	j.setResource(res)

	if j.isCancelled() {
		return StatusCancelled, "", ""
	}

	j.setStatus(StatusStarting)
	if err := o.throttle(ctx, adapter.Name()); err != nil {
		return StatusFailed, provider.KindTimeout, err.Error()
	}
	providerJobID, err := adapter.Start(ctx, res, provider.StartOptions{
		Language:    j.Request.Language,
		Diarization: j.Request.Diarization,
		MaxSpeakers: j.Request.MaxSpeakers,
	})
	if err != nil {
		return StatusFailed, provider.KindOf(err), err.Error()
	}
	j.setProviderJobID(providerJobID)
	log.Debug().Str("provider_job_id", providerJobID).Msg("transcription started")

	j.setStatus(StatusPolling)
	if st, kind, msg, done := o.pollUntilDone(ctx, j, adapter, providerJobID, deadline, log); done {
		return st, kind, msg
	}

	if j.isCancelled() {
		return StatusCancelled, "", ""
	}

	j.setStatus(StatusFetching)
	if err := o.throttle(ctx, adapter.Name()); err != nil {
		return StatusFailed, provider.KindTimeout, err.Error()
	}
	raw, err := adapter.Fetch(ctx, providerJobID)
	if err != nil {
		return StatusFailed, provider.KindOf(err), err.Error()
	}

	j.setStatus(StatusNormalizing)
	transcript, err := o.normalizer.Normalize(adapter.Name(), raw)
	if err != nil {
		return StatusFailed, provider.KindInvalidInput, fmt.Sprintf("normalize result: %v", err)
	}
	o.attachCost(j, transcript)

	j.mu.Lock()
	j.result = transcript
	j.mu.Unlock()
	return StatusCompleted, "", ""
}

// uploadWithRetry uploads the audio, retrying transient failures with
// exponential backoff. Non-retryable errors fail immediately.
func (o *Orchestrator) uploadWithRetry(ctx context.Context, j *Job, adapter provider.Adapter, log zerolog.Logger) (provider.Resource, error) {
	attempts := o.cfg.UploadRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := o.throttle(ctx, adapter.Name()); err != nil {
			return provider.Resource{}, fmt.Errorf("upload interrupted: %w", err)
		}
		res, err := adapter.Upload(ctx, j.Request.Audio, j.Request.ContentType)
		if err == nil {
			return res, nil
		}
		lastErr = err

		kind := provider.KindOf(err)
		if !kind.Retryable() || attempt == attempts {
			break
		}

		backoff := o.cfg.UploadBackoff * time.Duration(1<<(attempt-1))
		log.Debug().Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("upload failed, retrying")
		if err := o.sleep(ctx, backoff); err != nil {
			return provider.Resource{}, fmt.Errorf("upload interrupted: %w", err)
		}
		if j.isCancelled() {
			break
		}
	}
	return provider.Resource{}, fmt.Errorf("upload audio: %w", lastErr)
}

// pollUntilDone polls the provider until the remote job succeeds, fails,
// times out, or the job is cancelled. Returns done=false only when the
// remote job succeeded and the caller should fetch the result.
func (o *Orchestrator) pollUntilDone(ctx context.Context, j *Job, adapter provider.Adapter, providerJobID string, deadline time.Time, log zerolog.Logger) (Status, provider.Kind, string, bool) {
	delay := o.cfg.PollBase
	for {
		if j.isCancelled() {
			return StatusCancelled, "", "", true
		}
		if !o.clk.Now().Before(deadline) {
			return StatusFailed, provider.KindTimeout,
				fmt.Sprintf("job did not complete within %s", o.cfg.Timeout), true
		}

		if err := o.throttle(ctx, adapter.Name()); err != nil {
			return StatusFailed, provider.KindTimeout, err.Error(), true
		}
		status, err := adapter.Poll(ctx, providerJobID)
		if err != nil {
			kind := provider.KindOf(err)
			if !kind.Retryable() {
				return StatusFailed, kind, err.Error(), true
			}
			log.Debug().Err(err).Msg("poll failed, will retry")
		} else {
			switch status.State {
			case provider.StateSucceeded:
				return "", "", "", false
			case provider.StateFailed:
				msg := status.Message
				if msg == "" {
					msg = "provider reported failure"
				}
				return StatusFailed, provider.KindInvalidInput, msg, true
			}
		}

		if err := o.sleep(ctx, o.jittered(delay)); err != nil {
			return StatusFailed, provider.KindTimeout, fmt.Sprintf("polling interrupted: %v", err), true
		}
		delay = time.Duration(float64(delay) * o.cfg.PollFactor)
		if delay > o.cfg.PollCap {
			delay = o.cfg.PollCap
		}
	}
}

// jittered spreads a delay by ±PollJitter so concurrent jobs do not poll in
// lockstep.
func (o *Orchestrator) jittered(d time.Duration) time.Duration {
	if o.cfg.PollJitter <= 0 {
		return d
	}
	spread := 1 + o.cfg.PollJitter*(2*o.random()-1)
	return time.Duration(float64(d) * spread)
}

// cleanup releases provider-side resources. Called exactly once per job,
// after the terminal state is decided. Uses a fresh context so cleanup
// still runs when the job's context is gone.
func (o *Orchestrator) cleanup(j *Job, adapter provider.Adapter, log zerolog.Logger) {
	if j.Request.RetainResources {
		return
	}

	j.mu.RLock()
	res := j.resource
	providerJobID := j.providerJobID
	j.mu.RUnlock()
	if res == (provider.Resource{}) && providerJobID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := adapter.Cleanup(ctx, res, providerJobID); err != nil {
		log.Warn().Err(err).Msg("provider cleanup failed")
	}
}

// attachCost prices the finished transcript. Prefers the provider-reported
// duration, falls back to the pre-upload estimate.
func (o *Orchestrator) attachCost(j *Job, transcript *normalize.Transcript) {
	if o.pricing == nil {
		return
	}
	duration := transcript.Duration
	if duration == 0 {
		duration = j.Request.DurationEstimate
	}
	est, err := o.pricing.Estimate(j.Request.Provider, duration, int64(len(j.Request.Audio)), j.Request.Diarization)
	if err == nil {
		transcript.CostEstimate = est.Total
	}
}

func (o *Orchestrator) persist(j *Job, log zerolog.Logger) {
	if o.store == nil || !o.cfg.PersistResults {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SaveTranscript(ctx, j.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("persist transcript failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
