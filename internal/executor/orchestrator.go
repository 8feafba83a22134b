package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/monitor"
	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/internal/sandbox"
	"livecode-sandbox/internal/storage"
)

const msgBackendUnavailable = "Sandbox backend is not available for code execution"

const unknownLanguage = "unknown"

// AuditLogger receives one record per execution and one per security event.
// *storage.AuditWriter implements it.
type AuditLogger interface {
	Log(exec *storage.Execution)
	LogSecurityEvent(event *storage.SecurityEventRecord)
}

type Options struct {
	Registry *runtime.Registry
	// Backend may be nil; every request then gets an unavailable result.
	Backend  sandbox.Backend
	Detector *monitor.EscapeDetector
	Metrics  *monitor.Metrics
	Tracer   *monitor.Tracer
	Audit    AuditLogger

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Orchestrator runs requests through validate, dispatch and normalize.
type Orchestrator struct {
	registry *runtime.Registry
	backend  sandbox.Backend
	detector *monitor.EscapeDetector
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
	audit    AuditLogger

	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		registry:       opts.Registry,
		backend:        opts.Backend,
		detector:       opts.Detector,
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		audit:          opts.Audit,
		defaultTimeout: opts.DefaultTimeout,
		maxTimeout:     opts.MaxTimeout,
	}
	if o.registry == nil {
		o.registry = runtime.NewRegistry()
	}
	if o.detector == nil {
		o.detector = monitor.NewEscapeDetector()
	}
	if o.tracer == nil {
		o.tracer = monitor.NewTracer()
	}
	if o.defaultTimeout <= 0 {
		o.defaultTimeout = 30 * time.Second
	}
	if o.maxTimeout <= 0 {
		o.maxTimeout = MaxTimeoutSeconds * time.Second
	}
	return o
}

func (o *Orchestrator) Registry() *runtime.Registry { return o.registry }

// BackendName reports the backend chosen at startup, or "" when none.
func (o *Orchestrator) BackendName() string {
	if o.backend == nil {
		return ""
	}
	return o.backend.Name()
}

// Execute runs req and always returns a result.
func (o *Orchestrator) Execute(ctx context.Context, req Request) *Result {
	return o.run(ctx, req, nil, nil)
}

// ExecuteStreaming is Execute with live output forwarded to stdout and stderr.
func (o *Orchestrator) ExecuteStreaming(ctx context.Context, req Request, stdout, stderr io.Writer) *Result {
	return o.run(ctx, req, stdout, stderr)
}

// rejection is a request refused before dispatch.
type rejection struct {
	message  string
	security bool
}

func (r *rejection) Error() string { return r.message }

// Validate checks req without running it and returns the canonical language.
func (o *Orchestrator) Validate(req Request) (runtime.Language, []sandbox.SecurityEvent, error) {
	lang, err := runtime.ParseLanguage(string(req.Language))
	if err != nil {
		return "", nil, &rejection{message: fmt.Sprintf("Unsupported language: %s", req.Language)}
	}
	if req.Timeout < 0 || req.Timeout > MaxTimeoutSeconds {
		return lang, nil, &rejection{message: fmt.Sprintf("Timeout must be between 1 and %d seconds", MaxTimeoutSeconds)}
	}

	var events []sandbox.SecurityEvent
	dets := o.detector.AnalyzeCodeFor(req.Code, string(lang))
	for _, d := range dets {
		if o.metrics != nil {
			o.metrics.RecordSecurityEvent(d.Pattern)
		}
		events = append(events, sandbox.SecurityEvent{Type: d.Pattern, Severity: d.Severity, Detail: d.Detail})
	}
	if blocked, ok := monitor.FirstBlocking(dets); ok {
		return lang, events, &rejection{message: "Security validation failed: " + blocked.Detail, security: true}
	}

	if ok, issues := o.registry.Validate(req.Code, lang); !ok {
		return lang, events, &rejection{message: runtime.FirstError(issues)}
	}
	return lang, events, nil
}

// EffectiveTimeout is min(requested or default, language timeout, max timeout).
func (o *Orchestrator) EffectiveTimeout(req Request, cfg *runtime.Config) time.Duration {
	t := o.defaultTimeout
	if req.Timeout > 0 {
		t = time.Duration(req.Timeout) * time.Second
	}
	if cfg != nil && cfg.Timeout > 0 && cfg.Timeout < t {
		t = cfg.Timeout
	}
	if o.maxTimeout < t {
		t = o.maxTimeout
	}
	return t
}

// outcome is everything normalize needs to build a Result.
type outcome struct {
	execID    string
	language  runtime.Language
	backend   string
	noBackend bool
	rejected  *rejection
	res       *sandbox.ExecutionResult
	err       error
	timeout   time.Duration
	elapsed   time.Duration
	events    []sandbox.SecurityEvent
}

func (o *Orchestrator) run(ctx context.Context, req Request, stdout, stderr io.Writer) *Result {
	start := time.Now()
	execID := req.ExecutionID
	if execID == "" {
		execID = uuid.New().String()
	}

	label := languageLabel(req.Language)
	logger := log.With().
		Str("exec_id", execID).
		Str("language", label).
		Str("session_id", req.SessionID).
		Logger()

	ctx, span := o.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(execID),
		monitor.AttrLanguage.String(label),
		monitor.AttrSessionID.String(req.SessionID),
		monitor.AttrCodeHash.String(sandbox.CodeHash(req.Code)),
	)

	if o.metrics != nil {
		o.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
	}

	out := outcome{execID: execID, language: req.Language}
	lang, events, err := o.Validate(req)
	out.events = events
	if lang != "" {
		out.language = lang
	}

	switch {
	case err != nil:
		var rej *rejection
		errors.As(err, &rej)
		out.rejected = rej
		logger.Info().Str("reason", rej.message).Bool("security", rej.security).Msg("execution rejected")
	case o.backend == nil:
		out.noBackend = true
	default:
		cfg, _ := o.registry.Get(lang)
		out.timeout = o.EffectiveTimeout(req, cfg)
		out.backend = o.backend.Name()
		out.res, out.err = o.dispatch(ctx, sandbox.ExecutionRequest{
			ExecID:   execID,
			Code:     req.Code,
			Language: lang,
			Stdin:    req.Input,
			Timeout:  out.timeout,
		}, stdout, stderr)
	}
	out.elapsed = time.Since(start)

	result := o.normalize(out)
	o.observe(ctx, logger, req, label, result, start)

	span.SetAttributes(
		monitor.AttrBackend.String(result.Backend),
		monitor.AttrExitCode.Int(result.ExitCode),
		monitor.AttrTimedOut.Bool(result.TimedOut),
		monitor.AttrDurationMS.Int64(out.elapsed.Milliseconds()),
	)
	var spanErr error
	if result.status != StatusCompleted {
		spanErr = errors.New(result.status)
	}
	monitor.EndSpan(span, spanErr)
	return result
}

func (o *Orchestrator) dispatch(ctx context.Context, req sandbox.ExecutionRequest, stdout, stderr io.Writer) (*sandbox.ExecutionResult, error) {
	if o.metrics != nil {
		o.metrics.ActiveExecutions.Inc()
		defer o.metrics.ActiveExecutions.Dec()
	}
	if stdout != nil || stderr != nil {
		return o.backend.ExecuteStreaming(ctx, req, stdout, stderr)
	}
	return o.backend.Execute(ctx, req)
}

// normalize maps every outcome to a Result. It is the only place exit codes,
// timeouts and error text are decided.
func (o *Orchestrator) normalize(out outcome) *Result {
	r := &Result{
		ExecutionID:    out.execID,
		Backend:        out.backend,
		ExecutionTime:  max(out.elapsed.Seconds(), 0),
		SecurityEvents: out.events,
	}

	switch {
	case out.rejected != nil:
		r.ExitCode = 1
		r.Stderr = out.rejected.message
		r.status = StatusRejected
		return r

	case out.noBackend:
		r.ExitCode = 1
		r.Stderr = msgBackendUnavailable
		r.status = StatusUnavailable
		return r
	}

	if out.res != nil {
		r.SecurityEvents = append(r.SecurityEvents, out.res.SecurityEvents...)
	}

	switch {
	case errors.Is(out.err, sandbox.ErrTimeout):
		r.ExitCode = ExitTimeout
		r.TimedOut = true
		r.Stdout = ""
		r.Stderr = fmt.Sprintf("Execution timed out after %ss", strconv.FormatFloat(out.timeout.Seconds(), 'f', -1, 64))
		r.status = StatusTimeout
		return r

	case errors.Is(out.err, sandbox.ErrOOM):
		r.ExitCode = ExitOOM
		if out.res != nil {
			r.Stdout = out.res.Output
		}
		r.Stderr = "Execution killed: memory limit exceeded"
		r.status = StatusOOM
		return r

	case errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded):
		r.ExitCode = 1
		r.Stderr = "Execution cancelled"
		r.status = StatusCancelled
		return r

	case errors.Is(out.err, sandbox.ErrBackendUnavailable) || errors.Is(out.err, sandbox.ErrClosed):
		r.ExitCode = 1
		r.Stderr = msgBackendUnavailable
		r.status = StatusUnavailable
		return r

	case out.err != nil || out.res == nil:
		r.ExitCode = 1
		r.Stderr = fmt.Sprintf("Execution failed: %v", out.err)
		r.status = StatusError
		return r
	}

	r.Stdout = out.res.Output
	r.Stderr = out.res.Stderr
	r.ExitCode = out.res.ExitCode
	if r.ExitCode == ExitTimeout {
		// A program exiting 124 on its own is not a sandbox timeout.
		r.ExitCode = 1
	}

	for _, d := range o.detector.AnalyzeOutput(r.Stdout) {
		r.SecurityEvents = append(r.SecurityEvents, sandbox.SecurityEvent{Type: d.Pattern, Severity: d.Severity, Detail: d.Detail})
		if o.metrics != nil {
			o.metrics.RecordSecurityEvent(d.Pattern)
		}
	}

	if r.ExitCode == 0 {
		r.status = StatusCompleted
		return r
	}

	r.status = StatusError
	raw := r.Stderr
	if raw == "" {
		raw = r.Stdout
	}
	if parsed := o.registry.ParseError(raw, out.language); parsed.Matched {
		r.Stderr = parsed.Formatted
	}
	return r
}

// languageLabel names the language for metrics, spans and audit rows. Client
// input outside the supported set collapses to one value.
func languageLabel(l runtime.Language) string {
	lang, err := runtime.ParseLanguage(string(l))
	if err != nil {
		return unknownLanguage
	}
	return string(lang)
}

func (o *Orchestrator) observe(_ context.Context, logger zerolog.Logger, req Request, language string, r *Result, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordExecution(language, r.Backend, r.status, r.ExecutionTime)
		o.metrics.OutputSizeBytes.Observe(float64(len(r.Stdout) + len(r.Stderr)))
		if r.status != StatusCompleted && r.status != StatusError {
			o.metrics.RecordError(r.status)
		}
	}

	logger.Info().
		Str("status", r.status).
		Int("exit_code", r.ExitCode).
		Bool("timed_out", r.TimedOut).
		Float64("execution_time", r.ExecutionTime).
		Int("security_events", len(r.SecurityEvents)).
		Msg("execution finished")

	if o.audit == nil {
		return
	}
	completedAt := time.Now()
	o.audit.Log(&storage.Execution{
		ID:             r.ExecutionID,
		SessionID:      req.SessionID,
		Language:       language,
		Backend:        r.Backend,
		CodeHash:       sandbox.CodeHash(req.Code),
		ExitCode:       r.ExitCode,
		TimedOut:       r.TimedOut,
		Stdout:         r.Stdout,
		Stderr:         r.Stderr,
		DurationMS:     int64(r.ExecutionTime * 1000),
		SecurityEvents: len(r.SecurityEvents),
		Status:         r.status,
		RequestIP:      req.RequestIP,
		CreatedAt:      start,
		CompletedAt:    &completedAt,
	})
	for _, ev := range r.SecurityEvents {
		o.audit.LogSecurityEvent(&storage.SecurityEventRecord{
			ExecutionID: r.ExecutionID,
			Type:        ev.Type,
			Severity:    ev.Severity,
			Detail:      ev.Detail,
			CreatedAt:   completedAt,
		})
	}
}
