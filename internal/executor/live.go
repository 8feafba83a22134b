package executor

import (
	"context"

	"github.com/google/uuid"

	"livecode-sandbox/internal/notify"
)

// Hooks is the subset of the hook manager a live run dispatches to.
type Hooks interface {
	Go(fn func(ctx context.Context) (string, error))
	OnRun(ctx context.Context, sessionID, code, language string) (string, error)
	OnError(ctx context.Context, sessionID, code, language, errText string) (string, error)
}

// LiveRunner executes code for a session and reports progress to its
// connections as it happens.
type LiveRunner struct {
	orch      *Orchestrator
	publisher notify.Publisher
	hooks     Hooks
	chunkSize int
}

func NewLiveRunner(orch *Orchestrator, pub notify.Publisher, hooks Hooks, chunkSize int) *LiveRunner {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &LiveRunner{orch: orch, publisher: pub, hooks: hooks, chunkSize: chunkSize}
}

// Run publishes execution_start, streams output, publishes execution_complete
// and then dispatches the on_run and on_error hooks without waiting for them.
func (l *LiveRunner) Run(ctx context.Context, req Request) *Result {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.New().String()
	}
	sid, id := req.SessionID, req.ExecutionID

	l.publisher.Publish(ctx, notify.ExecutionStart(sid, id, string(req.Language), req.Code))

	stdout := notify.NewOutputWriter(ctx, l.publisher, sid, id, "stdout", l.chunkSize)
	stderr := notify.NewOutputWriter(ctx, l.publisher, sid, id, "stderr", l.chunkSize)
	result := l.orch.ExecuteStreaming(ctx, req, stdout, stderr)
	stdout.Flush()
	stderr.Flush()

	// The client may have gone away; the completion still goes to the session.
	l.publisher.Publish(context.WithoutCancel(ctx), notify.ExecutionComplete(sid, id, result))

	if l.hooks != nil {
		code, lang := req.Code, string(req.Language)
		l.hooks.Go(func(ctx context.Context) (string, error) {
			return l.hooks.OnRun(ctx, sid, code, lang)
		})
		if result.ExitCode != 0 {
			errText := result.Stderr
			l.hooks.Go(func(ctx context.Context) (string, error) {
				return l.hooks.OnError(ctx, sid, code, lang, errText)
			})
		}
	}
	return result
}
