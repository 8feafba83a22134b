package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/runtime"
)

const oomExitCode = 137

type RunnerOptions struct {
	Registry      *runtime.Registry
	MaxConcurrent int
	ScratchMB     int64
	// OrphanSweep is the interval of the labeled-container reaper; 0 disables it.
	OrphanSweep time.Duration
}

// Runner is the containerd-based sandbox backend.
type Runner struct {
	client    *Client
	runtimes  *runtime.Registry
	scratchMB int64
	sem       chan struct{}
	active    atomic.Int64
	wg        sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]struct{}

	stopSweep context.CancelFunc
}

func NewRunner(client *Client, opts RunnerOptions) *Runner {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 100
	}
	reg := opts.Registry
	if reg == nil {
		reg = runtime.NewRegistry()
	}

	r := &Runner{
		client:    client,
		runtimes:  reg,
		scratchMB: opts.ScratchMB,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		running:   make(map[string]struct{}),
	}
	if opts.OrphanSweep > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		r.stopSweep = cancel
		go r.sweepLoop(ctx, opts.OrphanSweep)
	}
	return r
}

// track marks execID as owned until the returned func is called.
func (r *Runner) track(execID string) func() {
	r.mu.Lock()
	r.running[execID] = struct{}{}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.running, execID)
		r.mu.Unlock()
	}
}

func (r *Runner) owns(execID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[execID]
	return ok
}

func (r *Runner) Name() string { return BackendContainerd }

func (r *Runner) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	return r.executeInternal(ctx, req, nil, nil)
}

// ExecuteStreaming runs code in a sandbox, streaming stdout/stderr to the provided writers.
func (r *Runner) ExecuteStreaming(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error) {
	return r.executeInternal(ctx, req, stdout, stderr)
}

// PullImage makes sure ref is present in the content store.
func (r *Runner) PullImage(ctx context.Context, ref string) error {
	_, err := r.client.Image(ctx, ref)
	return err
}

func (r *Runner) executeInternal(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error) {
	req.ExecID = newExecID(req)
	execID := req.ExecID
	hash := CodeHash(req.Code)

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language.String()).
		Str("code_hash", hash[:16]).
		Logger()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, failed(req, "execute", ErrClosed)
	}

	p, err := prepare(r.runtimes, req, r.scratchMB)
	if err != nil {
		return nil, failed(req, "validate", err)
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, failed(req, "acquire_slot", ctx.Err())
	}

	r.wg.Add(1)
	defer r.wg.Done()
	r.active.Add(1)
	defer r.active.Add(-1)
	defer r.track(execID)()

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	hostDir, err := stageCode(p)
	if err != nil {
		return nil, failed(req, "stage_code", err)
	}
	defer os.RemoveAll(hostDir)

	image, err := r.client.Image(execCtx, p.lang.Image)
	if err != nil {
		return nil, failed(req, "pull_image", err)
	}

	containerID := containerPrefix + execID
	container, err := r.createContainer(execCtx, containerID, image, p, hostDir)
	if err != nil {
		return nil, failed(req, "create_container", err)
	}
	defer func() {
		if cleanErr := r.teardown(context.Background(), container); cleanErr != nil {
			logger.Error().Err(cleanErr).Msg("container cleanup failed")
		}
	}()

	stdoutBuf := newCappedBuffer(maxStdoutBytes)
	stderrBuf := newCappedBuffer(maxStderrBytes)

	nsCtx := r.client.WithNamespace(execCtx)
	task, err := container.NewTask(nsCtx,
		cio.NewCreator(cio.WithStreams(strings.NewReader(p.Stdin), tee(stdoutBuf, stdout), tee(stderrBuf, stderr))),
	)
	if err != nil {
		return nil, failed(req, "create_task", err)
	}

	exitCh, err := task.Wait(nsCtx)
	if err != nil {
		return nil, failed(req, "task_wait", err)
	}

	start := time.Now()
	if err := task.Start(nsCtx); err != nil {
		return nil, failed(req, "task_start", err)
	}

	logger.Info().Msg("task started")

	result := &ExecutionResult{
		ID:       execID,
		CodeHash: hash,
		Backend:  BackendContainerd,
	}

	select {
	case status := <-exitCh:
		result.ExitCode = int(status.ExitCode())
	case <-execCtx.Done():
		killCtx := r.client.WithNamespace(context.Background())
		if err := task.Kill(killCtx, 9, containerd.WithKillAll); err != nil {
			logger.Error().Err(err).Msg("failed to kill task")
		}
		<-exitCh

		result.Output = stdoutBuf.String()
		result.Stderr = stderrBuf.String()
		result.Duration = time.Since(start)
		if !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return result, failed(req, "task_wait", execCtx.Err())
		}
		logger.Warn().Dur("timeout", p.Timeout).Msg("execution timed out, task killed")
		result.SecurityEvents = append(result.SecurityEvents, SecurityEvent{
			Type:   "timeout",
			Detail: fmt.Sprintf("execution exceeded %s timeout", p.Timeout),
		})
		return result, ErrTimeout
	}

	result.Output = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Duration = time.Since(start)

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("execution completed")

	if result.ExitCode == oomExitCode {
		result.SecurityEvents = append(result.SecurityEvents, SecurityEvent{
			Type:   "oom_kill",
			Detail: "process killed (OOM or resource limit)",
		})
		return result, ErrOOM
	}

	return result, nil
}

// ActiveCount returns the number of currently running executions.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Close stops accepting work, waits for running tasks and drops the client.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.stopSweep != nil {
		r.stopSweep()
	}
	drain(&r.wg, &r.active, BackendContainerd)
	return r.client.Close()
}

func (r *Runner) createContainer(
	ctx context.Context,
	id string,
	image containerd.Image,
	p *prepared,
	hostDir string,
) (containerd.Container, error) {
	nsCtx := r.client.WithNamespace(ctx)
	secProfile := SecurityProfileFor(p.lang)

	container, err := r.client.Raw().NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithContainerLabels(executionLabels(p)),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(p.lang.Command(containerCodePath(p), scratchMount)...),
			oci.WithProcessCwd(scratchMount),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, secProfile)
				ApplyResourceLimits(s, p.limits)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: workspaceDir,
					Type:        "bind",
					Source:      hostDir,
					Options:     []string{"rbind", "ro"},
				})

				s.Process.Env = mergeEnv(s.Process.Env, sandboxEnv(p.lang))
				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	return container, nil
}

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// sandboxEnv is what the sandbox sets on top of the image environment.
// Nothing from the host environment is passed through.
func sandboxEnv(lang *runtime.Config) []string {
	env := []string{
		"HOME=/tmp",
		"TMPDIR=/tmp",
		"LANG=C.UTF-8",
		"SANDBOX=true",
	}
	return append(env, lang.Env...)
}

// mergeEnv overrides base KEY=VALUE entries with extra, keeping base order.
func mergeEnv(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))
	for _, kv := range append(append([]string{}, base...), extra...) {
		key, _, _ := strings.Cut(kv, "=")
		if i, ok := index[key]; ok {
			out[i] = kv
			continue
		}
		index[key] = len(out)
		out = append(out, kv)
	}
	if _, ok := index["PATH"]; !ok {
		out = append(out, defaultPath)
	}
	return out
}

// drain waits up to 30s for in-flight executions.
func drain(wg *sync.WaitGroup, active *atomic.Int64, backend string) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("backend", backend).Msg("all executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Str("backend", backend).Int64("active", active.Load()).Msg("timed out waiting for executions to drain")
	}
}
