package jobs

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

const (
	defaultInitialBackoff = 1500 * time.Millisecond
	defaultBackoffGrowth  = 1.6
	defaultMaxBackoff     = 15 * time.Second
	defaultMaxWait        = 5 * time.Minute
)

// Outcome classifies how a job run ended. Timeout means the local wall-clock
// ceiling was exceeded while the server still reported processing; it is a
// distinct outcome from Failed so callers can render different messaging.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCanceled  Outcome = "canceled"
)

// Result is the single completion-or-failure outcome of a job run.
type Result struct {
	Outcome      Outcome
	Payload      string
	ErrorMessage string
	Attempts     int
	Elapsed      time.Duration
}

// StartFunc issues the fire-and-forget start call.
type StartFunc func(ctx context.Context) (repositories.StartOutcome, error)

// PollFunc checks job status. It must be side-effect free beyond status
// inspection so that re-polling never restarts the job.
type PollFunc func(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error)

// Options configures a Poller. Zero values fall back to the defaults above.
type Options struct {
	InitialBackoff time.Duration
	BackoffGrowth  float64
	MaxBackoff     time.Duration
	// MaxWait bounds total elapsed time across all attempts.
	MaxWait time.Duration
	Clock   clock.Clock
	// OnStatus observes each applied poll result. It is never invoked for a
	// response that arrives after cancellation or timeout.
	OnStatus func(attempt int, report repositories.JobStatusReport)
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.BackoffGrowth <= 1 {
		o.BackoffGrowth = defaultBackoffGrowth
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Poller converts a start call plus a status endpoint into a single outcome,
// normalizing the clinic API's three signaling styles: immediate synchronous
// result, 202 with Retry-After, and bare 202 with client-chosen backoff.
type Poller struct {
	logger *zap.Logger
	opts   Options
}

// NewPoller creates a poller with the given options.
func NewPoller(logger *zap.Logger, opts Options) *Poller {
	return &Poller{
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Run drives one job to an outcome. Cancellation via ctx halts further
// scheduled attempts; an in-flight poll response arriving after cancellation
// or timeout is discarded, never applied.
func (p *Poller) Run(ctx context.Context, start StartFunc, poll PollFunc) (Result, error) {
	clk := p.opts.Clock
	startedAt := clk.Now()

	outcome, err := start(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to start job: %w", err)
	}

	if outcome.Immediate != nil {
		report := outcome.Immediate
		p.logger.Info("Job resolved synchronously", zap.String("status", string(report.Status)))
		return p.terminalResult(*report, 0, clk.Since(startedAt)), nil
	}
	if outcome.Accepted == nil {
		return Result{}, fmt.Errorf("start outcome carries neither immediate result nor job handle")
	}
	handle := *outcome.Accepted

	p.logger.Info("Job accepted for polling",
		zap.String("jobID", handle.ID),
		zap.String("kind", string(handle.Kind)))

	deadline := clk.Timer(p.opts.MaxWait)
	defer deadline.Stop()

	attempt := 0
	var delay time.Duration

	for {
		if delay > 0 {
			wait := clk.Timer(delay)
			select {
			case <-wait.C:
			case <-ctx.Done():
				wait.Stop()
				return p.canceledResult(ctx, attempt, clk.Since(startedAt)), nil
			case <-deadline.C:
				wait.Stop()
				return p.timeoutResult(handle, attempt, clk.Since(startedAt)), nil
			}
		}

		attempt++
		report, done, result := p.pollOnce(ctx, poll, handle, deadline, attempt, startedAt)
		if done {
			return result, nil
		}

		switch report.Status {
		case entities.JobStatusCompleted:
			return p.terminalResult(*report, attempt, clk.Since(startedAt)), nil
		case entities.JobStatusFailed:
			return p.terminalResult(*report, attempt, clk.Since(startedAt)), nil
		}

		// An explicit Retry-After hint wins over computed backoff, but for
		// the next attempt only.
		if report.RetryAfter > 0 {
			delay = report.RetryAfter
		} else {
			delay = p.backoff(attempt)
		}

		p.logger.Debug("Job still processing",
			zap.String("jobID", handle.ID),
			zap.Int("attempt", attempt),
			zap.Duration("nextDelay", delay))
	}
}

type pollResponse struct {
	report repositories.JobStatusReport
	err    error
}

// pollOnce issues a single poll and races it against cancellation and the
// wall-clock ceiling. A response that loses the race is dropped on the floor.
func (p *Poller) pollOnce(
	ctx context.Context,
	poll PollFunc,
	handle repositories.JobHandle,
	deadline *clock.Timer,
	attempt int,
	startedAt time.Time,
) (*repositories.JobStatusReport, bool, Result) {
	clk := p.opts.Clock
	responses := make(chan pollResponse, 1)
	go func() {
		report, err := poll(ctx, handle)
		responses <- pollResponse{report: report, err: err}
	}()

	select {
	case res := <-responses:
		if res.err != nil {
			p.logger.Warn("Job status poll failed, treating as still processing",
				zap.String("jobID", handle.ID),
				zap.Int("attempt", attempt),
				zap.Error(res.err))
			stale := repositories.JobStatusReport{Status: entities.JobStatusProcessing}
			return &stale, false, Result{}
		}
		if p.opts.OnStatus != nil {
			p.opts.OnStatus(attempt, res.report)
		}
		return &res.report, false, Result{}
	case <-ctx.Done():
		p.logger.Info("Job polling canceled, discarding in-flight response",
			zap.String("jobID", handle.ID))
		return nil, true, p.canceledResult(ctx, attempt, clk.Since(startedAt))
	case <-deadline.C:
		return nil, true, p.timeoutResult(handle, attempt, clk.Since(startedAt))
	}
}

func (p *Poller) backoff(attempt int) time.Duration {
	d := float64(p.opts.InitialBackoff) * math.Pow(p.opts.BackoffGrowth, float64(attempt-1))
	if d > float64(p.opts.MaxBackoff) {
		return p.opts.MaxBackoff
	}
	return time.Duration(d)
}

func (p *Poller) terminalResult(report repositories.JobStatusReport, attempts int, elapsed time.Duration) Result {
	result := Result{
		Attempts: attempts,
		Elapsed:  elapsed,
	}
	if report.Status == entities.JobStatusFailed {
		result.Outcome = OutcomeFailed
		result.ErrorMessage = report.ErrorMessage
		return result
	}
	result.Outcome = OutcomeCompleted
	result.Payload = report.Result
	return result
}

func (p *Poller) timeoutResult(handle repositories.JobHandle, attempts int, elapsed time.Duration) Result {
	p.logger.Warn("Job exceeded wall-clock ceiling while still processing",
		zap.String("jobID", handle.ID),
		zap.Duration("elapsed", elapsed))
	return Result{
		Outcome:      OutcomeTimeout,
		ErrorMessage: fmt.Sprintf("job %s still processing after %s", handle.ID, elapsed),
		Attempts:     attempts,
		Elapsed:      elapsed,
	}
}

func (p *Poller) canceledResult(ctx context.Context, attempts int, elapsed time.Duration) Result {
	return Result{
		Outcome:      OutcomeCanceled,
		ErrorMessage: ctx.Err().Error(),
		Attempts:     attempts,
		Elapsed:      elapsed,
	}
}
