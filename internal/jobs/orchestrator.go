package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/ai-creator/internal/ai"
	"github.com/suPer8Hu/ai-creator/internal/common"
	"github.com/suPer8Hu/ai-creator/internal/credits"
	"github.com/suPer8Hu/ai-creator/internal/delivery"
	"github.com/suPer8Hu/ai-creator/internal/metrics"
)

// ErrInvalidRequest is returned for unknown kinds, providers or missing
// required parameters. No credit is spent.
var ErrInvalidRequest = errors.New("invalid request")

const (
	storeAttempts = 3
	storeTimeout  = 10 * time.Second
	sinkTimeout   = 30 * time.Second
	// queued rows older than this were interrupted mid-submit
	staleQueued = 5 * time.Minute
	resumeBatch = 500
)

type Authorizer interface {
	Authorize(ctx context.Context, ownerID string) (credits.Pool, error)
}

type Gateways interface {
	Get(name string) (ai.Gateway, error)
}

// Lease grants a single poll owner per job across processes.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type Options struct {
	Kinds           Kinds
	DefaultProvider string
	// nil: this process is the only poller
	Lease  Lease
	Logger zerolog.Logger
}

type SubmitRequest struct {
	Kind        Kind
	Provider    string
	Model       string
	Payload     map[string]any
	OwnerID     string
	Destination string
	Deliver     bool
}

type SubmitResult struct {
	JobID       string `json:"job_id"`
	Status      Status `json:"status"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorText   string `json:"error_text,omitempty"`
}

type task struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// Orchestrator owns the job state machine and one poll task per running job.
// All writes for a job are issued by the task that owns it.
type Orchestrator struct {
	repo     *Repo
	ledger   Authorizer
	gateways Gateways
	sink     delivery.Sink
	kinds    Kinds
	lease    Lease
	provider string
	log      zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

func NewOrchestrator(repo *Repo, ledger Authorizer, gateways Gateways, sink delivery.Sink, opts Options) *Orchestrator {
	if opts.Kinds == nil {
		opts.Kinds = DefaultKinds()
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "apifree"
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:     repo,
		ledger:   ledger,
		gateways: gateways,
		sink:     sink,
		kinds:    opts.Kinds,
		lease:    opts.Lease,
		provider: strings.ToLower(strings.TrimSpace(opts.DefaultProvider)),
		log:      opts.Logger.With().Str("component", "orchestrator").Logger(),
		baseCtx:  ctx,
		stop:     stop,
		tasks:    make(map[string]*task),
	}
}

func (o *Orchestrator) Kinds() Kinds { return o.kinds }

// Submit authorizes, records and submits one job. It returns once the
// provider answered the submission; polling continues in the background.
// Provider failures are reported in the result, not as errors.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if _, ok := o.kinds.Lookup(req.Kind); !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	kc := o.kindConfig(req.Kind)
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidRequest)
	}
	for _, key := range kc.Required {
		if s, _ := req.Payload[key].(string); strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
		}
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = kc.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = o.provider
	}
	gw, err := o.gateways.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidRequest, err)
	}

	pool, err := o.ledger.Authorize(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if !pool.Granted() {
		return nil, credits.ErrInsufficientCredit
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		dest = owner
	}
	now := time.Now()
	job := &Job{
		ID:             id,
		Kind:           req.Kind,
		OwnerID:        owner,
		Destination:    dest,
		Provider:       provider,
		Model:          model,
		RequestPayload: string(payload),
		Status:         StatusQueued,
		CreditPool:     string(pool),
		Deliver:        req.Deliver,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.JobSubmitted(string(job.Kind))
	log := o.log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("owner_id", owner).Logger()

	res, subErr := gw.Submit(ctx, string(job.Kind), model, req.Payload)
	switch {
	case subErr != nil:
		code, text := classifySubmitError(subErr)
		log.Warn().Err(subErr).Str("error_code", code).Msg("submit failed")
		p := Patch{Status: StatusError, ErrorCode: strPtr(code), ErrorText: strPtr(text)}
		if raw := ai.RawPayload(subErr); len(raw) > 0 {
			p.ResultPayload = strPtr(string(raw))
		}
		applied, err := o.transition(ctx, job, []Status{StatusQueued}, p)
		if err != nil {
			return nil, err
		}
		if applied {
			o.notifyFailure(job, code, text)
		} else {
			o.reload(ctx, job)
		}

	case res.ArtifactURL != "":
		p := Patch{Status: StatusDone, ArtifactURL: strPtr(res.ArtifactURL), ResultPayload: strPtr(string(res.Raw))}
		if res.ExternalID != "" {
			p.ExternalID = strPtr(res.ExternalID)
		}
		applied, err := o.transition(ctx, job, []Status{StatusQueued}, p)
		if err != nil {
			return nil, err
		}
		if applied {
			log.Info().Msg("done on submit")
			o.deliver(job)
		} else {
			o.reload(ctx, job)
		}

	default:
		p := Patch{Status: StatusRunning, ExternalID: strPtr(res.ExternalID), ResultPayload: strPtr(string(res.Raw))}
		applied, err := o.transition(ctx, job, []Status{StatusQueued}, p)
		if err != nil {
			return nil, err
		}
		if applied {
			log.Info().Str("external_id", res.ExternalID).Msg("accepted by provider")
			o.notify(job, delivery.AcceptedText(string(job.Kind), job.ID))
			o.startPoll(job, false)
		} else {
			o.reload(ctx, job)
		}
	}

	return resultOf(job), nil
}

// Get returns a snapshot of the job record.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*Job, error) {
	return o.repo.Get(ctx, jobID)
}

// History lists an owner's most recent jobs.
func (o *Orchestrator) History(ctx context.Context, ownerID string, limit int) ([]Job, error) {
	return o.repo.ListByOwner(ctx, ownerID, limit)
}

// Wait blocks until the poll task of jobID ends. It returns at once when the
// job has no task in this process.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	t, ok := o.tasks[jobID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of poll tasks in this process.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// Close stops every poll task without touching job state; the jobs stay
// running and are picked up again by Resume.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.stop()
	o.wg.Wait()
}

// Resume adopts running jobs that have no poll task here, and closes out
// jobs whose deadline passed while nobody was polling. It returns the number
// of tasks started.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	now := time.Now()

	queued, err := o.repo.ListByStatus(ctx, StatusQueued, resumeBatch)
	if err != nil {
		return 0, err
	}
	for i := range queued {
		job := &queued[i]
		if now.Sub(job.CreatedAt) < staleQueued {
			continue
		}
		text := "submission interrupted before the provider answered"
		if applied, err := o.transition(ctx, job, []Status{StatusQueued}, Patch{
			Status:    StatusError,
			ErrorCode: strPtr(CodeProviderUnavailable),
			ErrorText: strPtr(text),
		}); err == nil && applied {
			o.notifyFailure(job, CodeProviderUnavailable, text)
		}
	}

	running, err := o.repo.ListByStatus(ctx, StatusRunning, resumeBatch)
	if err != nil {
		return 0, err
	}
	started := 0
	for i := range running {
		job := running[i]
		if o.hasTask(job.ID) {
			continue
		}
		kc := o.kindConfig(job.Kind)
		if !now.Before(job.CreatedAt.Add(kc.Timeout)) {
			o.expire(&job)
			continue
		}
		if o.startPoll(&job, true) {
			started++
		}
	}
	if started > 0 {
		o.log.Info().Int("jobs", started).Msg("resumed polling")
	}
	return started, nil
}

func (o *Orchestrator) hasTask(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[jobID]
	return ok
}

func (o *Orchestrator) kindConfig(kind Kind) KindConfig {
	kc, ok := o.kinds.Lookup(kind)
	if !ok {
		kc = DefaultKinds()[KindImage]
	}
	if kc.PollInterval <= 0 {
		kc.PollInterval = time.Second
	}
	if kc.Timeout <= 0 {
		kc.Timeout = DefaultKinds()[KindImage].Timeout
	}
	return kc
}

// startPoll registers and launches the poll task for job. adopt marks a job
// found in the store, which requires the lease before polling.
func (o *Orchestrator) startPoll(job *Job, adopt bool) bool {
	kc := o.kindConfig(job.Kind)
	deadline := job.CreatedAt.Add(kc.Timeout)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	if _, ok := o.tasks[job.ID]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	t := &task{done: make(chan struct{}), cancel: cancel}
	o.tasks[job.ID] = t
	o.wg.Add(1)

	snapshot := *job
	go func() {
		defer o.wg.Done()
		defer close(t.done)
		defer func() {
			o.mu.Lock()
			delete(o.tasks, snapshot.ID)
			o.mu.Unlock()
		}()
		defer cancel()
		o.run(ctx, &snapshot, kc, deadline, adopt)
	}()
	return true
}

func leaseTTL(kc KindConfig) time.Duration {
	ttl := 3 * kc.PollInterval
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return ttl
}

func (o *Orchestrator) run(ctx context.Context, job *Job, kc KindConfig, deadline time.Time, adopt bool) {
	log := o.log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	var token string
	if o.lease != nil {
		tok, ok, err := o.lease.Acquire(ctx, job.ID, leaseTTL(kc))
		switch {
		case err != nil && adopt:
			log.Warn().Err(err).Msg("lease unavailable, leaving job to its owner")
			return
		case err != nil:
			log.Warn().Err(err).Msg("lease unavailable, polling without it")
		case !ok:
			log.Debug().Msg("job polled elsewhere")
			return
		default:
			token = tok
			defer func() {
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = o.lease.Release(rctx, job.ID, token)
			}()
		}
	}

	metrics.PollerStarted()
	defer metrics.PollerStopped()

	o.poll(ctx, job, kc, deadline, token, log)
}

func (o *Orchestrator) poll(ctx context.Context, job *Job, kc KindConfig, deadline time.Time, token string, log zerolog.Logger) {
	gw, err := o.gateways.Get(job.Provider)
	if err != nil || job.ExternalID == nil || *job.ExternalID == "" {
		text := "job cannot be polled: missing provider or external id"
		if err != nil {
			text = err.Error()
		}
		if applied, _ := o.transition(ctx, job, []Status{StatusRunning}, Patch{
			Status:    StatusError,
			ErrorCode: strPtr(CodeProviderProtocol),
			ErrorText: strPtr(text),
		}); applied {
			o.notifyFailure(job, CodeProviderProtocol, text)
		}
		return
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(kc.PollInterval)
	defer ticker.Stop()

	kind := string(job.Kind)
	lastRaw := ""
	if job.ResultPayload != nil {
		lastRaw = *job.ResultPayload
	}

	for {
		select {
		case <-dctx.Done():
			if ctx.Err() != nil {
				// shutdown; the job stays running for Resume
				return
			}
			o.expire(job)
			return
		case <-ticker.C:
		}

		if token != "" {
			if held, err := o.lease.Refresh(dctx, job.ID, token, leaseTTL(kc)); err == nil && !held {
				log.Warn().Msg("lease lost, stopping")
				return
			}
		}

		res, err := gw.Status(dctx, kind, *job.ExternalID)
		if dctx.Err() != nil || !time.Now().Before(deadline) {
			// answers after the deadline are discarded
			if ctx.Err() != nil {
				return
			}
			o.expire(job)
			return
		}
		if err != nil {
			metrics.PollIteration(kind, "transient")
			log.Warn().Err(err).Msg("status check failed")
			continue
		}

		switch res.State {
		case ai.StateSucceeded:
			metrics.PollIteration(kind, "done")
			applied, err := o.transition(ctx, job, []Status{StatusRunning}, Patch{
				Status:        StatusDone,
				ArtifactURL:   strPtr(res.ArtifactURL),
				ResultPayload: strPtr(string(res.Raw)),
			})
			if err != nil {
				log.Error().Err(err).Msg("record done")
				return
			}
			if applied {
				log.Info().Msg("done")
				o.deliver(job)
			}
			return

		case ai.StateFailed:
			metrics.PollIteration(kind, "failed")
			text := delivery.Bounded(string(res.Raw))
			applied, err := o.transition(ctx, job, []Status{StatusRunning}, Patch{
				Status:        StatusError,
				ErrorCode:     strPtr(CodeProviderFailed),
				ErrorText:     strPtr(text),
				ResultPayload: strPtr(string(res.Raw)),
			})
			if err != nil {
				log.Error().Err(err).Msg("record failure")
				return
			}
			if applied {
				log.Warn().Msg("provider reported failure")
				o.notifyFailure(job, CodeProviderFailed, text)
			}
			return

		default:
			metrics.PollIteration(kind, "running")
			raw := string(res.Raw)
			if raw == lastRaw {
				continue
			}
			applied, err := o.transition(ctx, job, []Status{StatusRunning}, Patch{
				Status:        StatusRunning,
				ResultPayload: strPtr(raw),
			})
			if err != nil {
				log.Warn().Err(err).Msg("record progress")
				continue
			}
			if !applied {
				// someone else finished the job
				return
			}
			lastRaw = raw
		}
	}
}

func (o *Orchestrator) expire(job *Job) {
	text := fmt.Sprintf("no result within %s", o.kindConfig(job.Kind).Timeout)
	applied, err := o.transition(context.Background(), job, []Status{StatusRunning}, Patch{
		Status:    StatusTimeout,
		ErrorCode: strPtr(CodeTimeout),
		ErrorText: strPtr(text),
	})
	if err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("record timeout")
		return
	}
	if applied {
		o.log.Warn().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("timed out")
		o.notify(job, delivery.TimeoutText())
	}
}

// transition writes p guarded by from and mirrors it onto job when applied.
// Writes carry absolute values, so after an uncertain failure the row is
// checked before writing again.
func (o *Orchestrator) transition(ctx context.Context, job *Job, from []Status, p Patch) (bool, error) {
	moves := !containsStatus(from, p.Status)
	var lastErr error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
			if moves && o.landed(ctx, job.ID, p.Status) {
				o.applied(job, p, moves)
				return true, nil
			}
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		applied, err := o.repo.Update(wctx, job.ID, from, p)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if applied {
			o.applied(job, p, moves)
		}
		return applied, nil
	}
	return false, fmt.Errorf("update job %s: %w", job.ID, lastErr)
}

func (o *Orchestrator) landed(ctx context.Context, jobID string, status Status) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	cur, err := o.repo.Get(rctx, jobID)
	return err == nil && cur.Status == status
}

func (o *Orchestrator) applied(job *Job, p Patch, moves bool) {
	applyPatch(job, p)
	if moves {
		metrics.JobTransition(string(job.Kind), string(p.Status))
	}
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func applyPatch(job *Job, p Patch) {
	job.Status = p.Status
	job.UpdatedAt = time.Now()
	if p.ExternalID != nil {
		job.ExternalID = p.ExternalID
	}
	if p.ResultPayload != nil {
		job.ResultPayload = p.ResultPayload
	}
	if p.ArtifactURL != nil {
		job.ArtifactURL = p.ArtifactURL
	}
	if p.ErrorText != nil {
		job.ErrorText = p.ErrorText
	}
	if p.ErrorCode != nil {
		job.ErrorCode = p.ErrorCode
	}
}

func (o *Orchestrator) deliver(job *Job) {
	if !job.Deliver || o.sink == nil || job.ArtifactURL == nil {
		return
	}
	kind := string(job.Kind)
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	err := o.sink.Deliver(ctx, delivery.Delivery{
		JobID:       job.ID,
		Destination: job.Destination,
		ArtifactURL: *job.ArtifactURL,
		Kind:        kind,
		Media:       delivery.MediaFor(kind),
		Caption:     delivery.DoneCaption(kind),
	})
	if err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("delivery failed")
	}
}

func (o *Orchestrator) notify(job *Job, text string) {
	if !job.Deliver || o.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := o.sink.Notify(ctx, job.Destination, text); err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("notify failed")
	}
}

func (o *Orchestrator) notifyFailure(job *Job, code, text string) {
	if code == CodeInvalidModel {
		o.notify(job, delivery.InvalidModelText(job.Model))
		return
	}
	o.notify(job, delivery.FailureText(text))
}

func classifySubmitError(err error) (code, text string) {
	switch {
	case errors.Is(err, ai.ErrInvalidModel):
		code = CodeInvalidModel
	case errors.Is(err, ai.ErrProtocol):
		code = CodeProviderProtocol
	default:
		code = CodeProviderUnavailable
	}
	text = err.Error()
	if raw := ai.RawPayload(err); len(raw) > 0 && code != CodeInvalidModel {
		text += ": " + string(raw)
	}
	return code, delivery.Bounded(text)
}

// reload replaces job with the stored row after a guarded write found it
// already moved.
func (o *Orchestrator) reload(ctx context.Context, job *Job) {
	cur, err := o.repo.Get(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		o.log.Warn().Err(err).Str("job_id", job.ID).Msg("reload job")
		return
	}
	*job = *cur
}

func resultOf(job *Job) *SubmitResult {
	r := &SubmitResult{JobID: job.ID, Status: job.Status}
	if job.ArtifactURL != nil {
		r.ArtifactURL = *job.ArtifactURL
	}
	if job.ErrorCode != nil {
		r.ErrorCode = *job.ErrorCode
	}
	if job.ErrorText != nil {
		r.ErrorText = *job.ErrorText
	}
	return r
}
