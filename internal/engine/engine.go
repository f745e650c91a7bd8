// Package engine runs the background reconciliation loops that push pending
// ledger records onto the chain and verify attempts whose outcome is unknown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cognizanttrust/chain-reconciler/internal/alert"
	"github.com/cognizanttrust/chain-reconciler/internal/chain"
	"github.com/cognizanttrust/chain-reconciler/internal/config"
	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
	"github.com/cognizanttrust/chain-reconciler/internal/metrics"
	"github.com/cognizanttrust/chain-reconciler/internal/recorder"
	"github.com/cognizanttrust/chain-reconciler/internal/session"
	"github.com/cognizanttrust/chain-reconciler/internal/store"
	"github.com/cognizanttrust/chain-reconciler/internal/wallet"
)

const (
	workerSubmitter = "submitter"
	workerRetryScan = "retry_scanner"
	workerVerifier  = "verifier"

	verifyScanLimit = 1000
)

var ErrAlreadyRunning = errors.New("engine: already running")

// submitter is the slice of the recorder the engine consumes.
type submitter interface {
	Initialized() bool
	Initialize(ctx context.Context, passphrase string) error
	SignerAddress() (string, bool)
	Submit(ctx context.Context, rec *model.Record, onBroadcast func(txRef string)) recorder.Outcome
	ResolveOutcome(ctx context.Context, txRef string) (chain.Outcome, error)
}

// WorkerStatus is one worker's health snapshot.
type WorkerStatus struct {
	Alive    bool      `json:"alive"`
	LastPass time.Time `json:"last_pass"`
	Passes   uint64    `json:"passes"`
	Errors   uint64    `json:"errors"`
}

// Status is the coarse engine snapshot served by the status endpoint.
type Status struct {
	Running    bool                    `json:"running"`
	QueueDepth int                     `json:"queue_depth"`
	Workers    map[string]WorkerStatus `json:"workers"`
}

// DetailedStatus extends Status with ledger counts, the record each worker is
// currently processing, and each worker's recent activity ring.
type DetailedStatus struct {
	Status
	Counts     store.RecordCounts         `json:"counts"`
	Processing map[string]string          `json:"processing"`
	Activity   map[string][]ActivityEntry `json:"activity"`
}

type workerState struct {
	mu       sync.Mutex
	alive    bool
	failing  bool
	lastPass time.Time
	passes   uint64
	errors   uint64
}

func (w *workerState) snapshot() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{Alive: w.alive, LastPass: w.lastPass, Passes: w.passes, Errors: w.errors}
}

// Engine owns the three reconciliation workers. The submission worker drains
// the queue on a short cadence and sweeps a few never-attempted records; the
// retry scanner periodically resubmits whatever the fast path missed; the
// verifier resolves attempts whose receipt never arrived.
//
// Duplicate submission is prevented twice over: an in-process inflight set
// stops two workers racing on the same record inside this process, and the
// store's conditional updates stop a second broadcast from ever being
// recorded as the attempt.
type Engine struct {
	records  store.RecordStore
	settings store.SettingsStore
	session  session.Store
	rec      submitter
	cfg      config.EngineConfig
	logger   *slog.Logger
	alerter  alert.Alerter

	queue    *submitQueue
	activity *activitySet

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inflight map[uuid.UUID]string

	workers map[string]*workerState
}

func New(
	records store.RecordStore,
	settings store.SettingsStore,
	sess session.Store,
	rec submitter,
	cfg config.EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		records:  records,
		settings: settings,
		session:  sess,
		rec:      rec,
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		alerter:  &alert.NoopAlerter{},
		queue:    newSubmitQueue(),
		activity: newActivitySet(workerSubmitter, workerRetryScan, workerVerifier),
		inflight: make(map[uuid.UUID]string),
		workers: map[string]*workerState{
			workerSubmitter: {},
			workerRetryScan: {},
			workerVerifier:  {},
		},
	}
}

// SetAlerter installs the alert sink used for worker failure and recovery
// notifications. Must be called before Start.
func (e *Engine) SetAlerter(a alert.Alerter) {
	if a != nil {
		e.alerter = a
	}
}

// Enqueue flags a record for submission on the next fast-path pass.
func (e *Engine) Enqueue(id uuid.UUID) {
	if e.queue.Push(id) {
		metrics.QueueDepth.Set(float64(e.queue.Len()))
	}
}

// Start spawns the three workers. The context bounds the engine's whole
// lifetime; Stop cancels a derived context and joins.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	var wg sync.WaitGroup
	start := func(name string, interval time.Duration, pass func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runWorker(runCtx, name, interval, pass)
		}()
	}
	start(workerSubmitter, e.cfg.SubmitInterval, e.submissionPass)
	start(workerRetryScan, e.cfg.RetryInterval, e.retryPass)
	start(workerVerifier, e.cfg.VerifyInterval, e.verifyPass)

	done := e.done
	go func() {
		wg.Wait()
		close(done)
	}()

	e.logger.Info("engine started",
		"submit_interval", e.cfg.SubmitInterval,
		"retry_interval", e.cfg.RetryInterval,
		"verify_interval", e.cfg.VerifyInterval)
	return nil
}

// Stop cancels the workers and waits up to the configured stop timeout for
// them to drain. A worker stuck past the bound is logged and abandoned.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-time.After(e.cfg.StopTimeout):
		e.logger.Warn("engine stop timed out, abandoning workers", "timeout", e.cfg.StopTimeout)
	}
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Status() Status {
	s := Status{
		Running:    e.Running(),
		QueueDepth: e.queue.Len(),
		Workers:    make(map[string]WorkerStatus, len(e.workers)),
	}
	for name, w := range e.workers {
		s.Workers[name] = w.snapshot()
	}
	return s
}

func (e *Engine) DetailedStatus(ctx context.Context) (DetailedStatus, error) {
	counts, err := e.records.Counts(ctx)
	if err != nil {
		return DetailedStatus{}, fmt.Errorf("ledger counts: %w", err)
	}

	e.mu.Lock()
	processing := make(map[string]string, len(e.inflight))
	for id, worker := range e.inflight {
		processing[worker] = id.String()
	}
	e.mu.Unlock()

	return DetailedStatus{
		Status:     e.Status(),
		Counts:     counts,
		Processing: processing,
		Activity:   e.activity.Snapshot(),
	}, nil
}

// runWorker is the shared loop shell: run a pass, then sleep the cadence, or
// a longer backoff after a failed pass. The sleep is a select so cancellation
// interrupts it immediately.
func (e *Engine) runWorker(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) {
	state := e.workers[name]
	state.mu.Lock()
	state.alive = true
	state.mu.Unlock()
	defer func() {
		state.mu.Lock()
		state.alive = false
		state.mu.Unlock()
	}()

	logger := e.logger.With("worker", name)
	logger.Info("worker started", "interval", interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-timer.C:
		}

		delay := interval
		if err := e.runPass(ctx, name, pass); err != nil && ctx.Err() == nil {
			logger.Error("pass failed", "error", err, "backoff", e.cfg.ErrorBackoff)
			metrics.WorkerErrorsTotal.WithLabelValues(name).Inc()
			state.mu.Lock()
			state.errors++
			state.failing = true
			state.mu.Unlock()
			e.sendAlert(ctx, alert.Alert{
				Type:    alert.TypeWorkerFailing,
				Worker:  name,
				Title:   "reconciliation worker pass failed",
				Message: err.Error(),
			})
			delay = e.cfg.ErrorBackoff
		} else if ctx.Err() == nil {
			state.mu.Lock()
			recovered := state.failing
			state.failing = false
			state.mu.Unlock()
			if recovered {
				e.sendAlert(ctx, alert.Alert{
					Type:   alert.TypeRecovery,
					Worker: name,
					Title:  "reconciliation worker recovered",
				})
			}
		}
		timer.Reset(delay)
	}
}

// runPass wraps one worker pass with the gate check, recorder arming, and
// panic containment. A closed gate or unarmed recorder skips the pass
// without error; the worker just waits for the next tick.
func (e *Engine) runPass(ctx context.Context, name string, pass func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v\n%s", r, debug.Stack())
		}
	}()

	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.AutomaticMode || !settings.CredentialsConfigured {
		return nil
	}
	if !e.ensureInitialized(ctx) {
		return nil
	}

	metrics.WorkerIterationsTotal.WithLabelValues(name).Inc()
	state := e.workers[name]
	state.mu.Lock()
	state.passes++
	state.lastPass = time.Now().UTC()
	state.mu.Unlock()

	return pass(ctx)
}

// ensureInitialized arms the recorder from the cached session secret if it is
// not armed already. A missing or expired secret pauses work until an
// operator re-enables; a wrong secret is evicted so it is never retried.
func (e *Engine) ensureInitialized(ctx context.Context) bool {
	if e.rec.Initialized() {
		return true
	}

	secret, ok, err := e.session.Get(ctx)
	if err != nil {
		e.logger.Warn("session secret lookup failed", "error", err)
		return false
	}
	if !ok {
		e.logger.Debug("no cached session secret, waiting for operator")
		return false
	}

	if err := e.rec.Initialize(ctx, secret); err != nil {
		if errors.Is(err, wallet.ErrBadPassphrase) || errors.Is(err, recorder.ErrAddressMismatch) {
			e.logger.Error("cached session secret rejected, clearing it", "error", err)
			if cerr := e.session.Clear(ctx); cerr != nil {
				e.logger.Warn("session clear failed", "error", cerr)
			}
			e.sendAlert(ctx, alert.Alert{
				Type:    alert.TypeSecretInvalid,
				Worker:  "engine",
				Title:   "cached wallet passphrase rejected",
				Message: "automatic mode is paused until an operator re-enables it",
			})
		} else {
			e.logger.Warn("recorder initialization failed", "error", err)
		}
		return false
	}

	e.logger.Info("recorder re-armed from cached session")
	e.activity.Add("engine", "", "recorder re-armed from cached session")
	return true
}

// submissionPass drains the explicit queue, then sweeps a small batch of
// never-attempted records the queue may have missed.
func (e *Engine) submissionPass(ctx context.Context) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	for _, id := range e.queue.Drain() {
		metrics.QueueDepth.Set(float64(e.queue.Len()))
		if ctx.Err() != nil {
			return nil
		}
		rec, err := e.records.Get(ctx, id)
		if err != nil {
			e.logger.Warn("queued record lookup failed", "record_id", id, "error", err)
			continue
		}
		if rec == nil {
			e.logger.Warn("queued record no longer exists", "record_id", id)
			continue
		}
		e.submitRecord(ctx, workerSubmitter, rec, settings)
	}

	swept, err := e.records.ListNeverAttempted(ctx, e.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("sweep scan: %w", err)
	}
	for _, rec := range swept {
		if ctx.Err() != nil {
			return nil
		}
		e.submitRecord(ctx, workerSubmitter, rec, settings)
	}
	return nil
}

// retryPass resubmits a batch of never-attempted records, pacing the batch
// so a backlog does not hammer the RPC endpoint.
func (e *Engine) retryPass(ctx context.Context) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	batch, err := e.records.ListNeverAttempted(ctx, e.cfg.RetryBatch)
	if err != nil {
		return fmt.Errorf("retry scan: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	e.logger.Info("retry scan picked up records", "count", len(batch))
	for i, rec := range batch {
		if ctx.Err() != nil {
			return nil
		}
		if i > 0 && !sleepCtx(ctx, e.cfg.RetryDelay) {
			return nil
		}
		e.submitRecord(ctx, workerRetryScan, rec, settings)
	}
	return nil
}

// verifyPass resolves every attempt whose outcome is still unknown.
func (e *Engine) verifyPass(ctx context.Context) error {
	pending, err := e.records.ListAwaitingVerification(ctx, verifyScanLimit)
	if err != nil {
		return fmt.Errorf("verification scan: %w", err)
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return nil
		}
		e.verifyRecord(ctx, workerVerifier, rec)
	}
	return nil
}

// submitRecord runs one record through the broadcast path. The inflight claim
// keeps two workers in this process off the same record; the conditional
// MarkAttempted inside the broadcast callback makes the attempt durable
// before the outcome is known.
func (e *Engine) submitRecord(ctx context.Context, worker string, rec *model.Record, settings *model.AutoSettings) {
	if !rec.NeverAttempted() {
		return
	}
	if settings.MaxAutoAmount.IsPositive() && rec.Amount.GreaterThan(settings.MaxAutoAmount) {
		e.logger.Warn("record above automatic limit, leaving for manual handling",
			"record_id", rec.ID, "amount", rec.Amount, "limit", settings.MaxAutoAmount)
		return
	}
	if !e.claim(worker, rec.ID) {
		return
	}
	defer e.release(rec.ID)

	signer, _ := e.rec.SignerAddress()
	logger := e.logger.With("worker", worker, "record_id", rec.ID, "kind", rec.Kind)

	out := e.rec.Submit(ctx, rec, func(txRef string) {
		applied, err := e.records.MarkAttempted(ctx, rec.ID, txRef, signer)
		if err != nil {
			logger.Error("persisting attempted tx ref failed", "tx_ref", txRef, "error", err)
			return
		}
		if !applied {
			logger.Warn("record claimed elsewhere before broadcast could be stamped", "tx_ref", txRef)
		}
	})

	metrics.SubmissionOutcomesTotal.WithLabelValues(string(out.Kind)).Inc()
	metrics.RecordsProcessedTotal.WithLabelValues(worker).Inc()

	switch out.Kind {
	case recorder.OutcomeConfirmed:
		applied, err := e.records.MarkRecorded(ctx, rec.ID, out.TxRef, signer)
		if err != nil {
			logger.Error("marking record confirmed failed", "tx_ref", out.TxRef, "error", err)
			return
		}
		if applied {
			logger.Info("record confirmed on chain", "tx_ref", out.TxRef, "block", out.BlockNumber)
			e.activity.Add(worker, rec.ID.String(), "confirmed "+out.TxRef)
		}
	case recorder.OutcomeSentUnconfirmed:
		// Attempted ref was persisted at broadcast; the verifier owns it now.
		logger.Info("broadcast sent, awaiting verification", "tx_ref", out.TxRef)
		e.activity.Add(worker, rec.ID.String(), "sent unconfirmed "+out.TxRef)
	case recorder.OutcomeRejected:
		applied, err := e.records.ClearAttempt(ctx, rec.ID, out.TxRef)
		if err != nil {
			logger.Error("clearing rejected attempt failed", "tx_ref", out.TxRef, "error", err)
			return
		}
		if applied {
			logger.Warn("transaction rejected on chain, record reset for retry", "tx_ref", out.TxRef)
			e.activity.Add(worker, rec.ID.String(), "rejected "+out.TxRef)
		}
	default: // OutcomeFailed: nothing reached the network, record untouched.
		logger.Warn("submission failed before broadcast", "reason", out.Reason)
		e.activity.Add(worker, rec.ID.String(), "submission failed: "+out.Reason)
	}
}

// verifyRecord resolves the outcome of one previously attempted record.
func (e *Engine) verifyRecord(ctx context.Context, worker string, rec *model.Record) {
	if !rec.AwaitingVerification() {
		return
	}
	if !e.claim(worker, rec.ID) {
		return
	}
	defer e.release(rec.ID)

	txRef := *rec.AttemptedTxRef
	logger := e.logger.With("worker", worker, "record_id", rec.ID, "tx_ref", txRef)

	metrics.RecordsProcessedTotal.WithLabelValues(worker).Inc()
	out, err := e.rec.ResolveOutcome(ctx, txRef)
	if err != nil {
		logger.Warn("receipt lookup failed", "error", err)
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		return
	}

	signer := ""
	if rec.SignerAddress != nil {
		signer = *rec.SignerAddress
	} else if s, ok := e.rec.SignerAddress(); ok {
		signer = s
	}

	switch out.Status {
	case chain.OutcomeSuccess:
		applied, err := e.records.MarkRecorded(ctx, rec.ID, txRef, signer)
		if err != nil {
			logger.Error("marking verified record failed", "error", err)
			return
		}
		if applied {
			logger.Info("late confirmation found", "block", out.BlockNumber)
			e.activity.Add(worker, rec.ID.String(), "verified confirmed "+txRef)
		}
		metrics.VerificationsTotal.WithLabelValues("confirmed").Inc()
	case chain.OutcomeFailed:
		applied, err := e.records.ClearAttempt(ctx, rec.ID, txRef)
		if err != nil {
			logger.Error("clearing failed attempt failed", "error", err)
			return
		}
		if applied {
			logger.Warn("attempt confirmed failed, record reset for retry")
			e.activity.Add(worker, rec.ID.String(), "verified failed "+txRef)
		}
		metrics.VerificationsTotal.WithLabelValues("failed").Inc()
	default:
		// Still pending on chain. Leave it for the next pass.
		metrics.VerificationsTotal.WithLabelValues("still_pending").Inc()
	}
}

// VerifyRecord resolves a single record's attempt on demand.
func (e *Engine) VerifyRecord(ctx context.Context, id uuid.UUID) error {
	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("record %s not found", id)
	}
	if !rec.AwaitingVerification() {
		return fmt.Errorf("record %s has no attempt awaiting verification", id)
	}
	if !e.rec.Initialized() && !e.ensureInitialized(ctx) {
		return recorder.ErrNotInitialized
	}
	e.verifyRecord(ctx, "manual", rec)
	return nil
}

// RunPendingSweep runs one retry-scan pass immediately.
func (e *Engine) RunPendingSweep(ctx context.Context) error {
	if !e.rec.Initialized() && !e.ensureInitialized(ctx) {
		return recorder.ErrNotInitialized
	}
	return e.retryPass(ctx)
}

// sendAlert dispatches best-effort; delivery failures are already logged by
// the alerter and never affect worker flow.
func (e *Engine) sendAlert(ctx context.Context, a alert.Alert) {
	_ = e.alerter.Send(ctx, a)
}

func (e *Engine) claim(worker string, id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[id]; ok {
		return false
	}
	e.inflight[id] = worker
	return true
}

func (e *Engine) release(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
