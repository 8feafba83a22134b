package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/pkg/seccomp"
)

const (
	sandboxUser     = "65534:65534"
	dockerWaitGrace = 5 * time.Second
)

type DockerOptions struct {
	Registry      *runtime.Registry
	MaxConcurrent int
	ScratchMB     int64
	// OrphanSweep is the interval of the labeled-container sweep; 0 disables it.
	OrphanSweep time.Duration
}

// DockerRunner is the Docker CLI sandbox backend (macOS, or Linux without containerd).
type DockerRunner struct {
	runtimes      *runtime.Registry
	scratchMB     int64
	sem           chan struct{}
	active        atomic.Int64
	wg            sync.WaitGroup
	mu            sync.Mutex
	closed        bool
	dockerHost    string // resolved DOCKER_HOST (e.g. from Docker context)
	cancelCleanup context.CancelFunc
}

func NewDockerRunner(opts DockerOptions) *DockerRunner {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 100
	}
	reg := opts.Registry
	if reg == nil {
		reg = runtime.NewRegistry()
	}
	d := &DockerRunner{
		runtimes:   reg,
		scratchMB:  opts.ScratchMB,
		sem:        make(chan struct{}, opts.MaxConcurrent),
		dockerHost: resolveDockerHost(),
	}

	if opts.OrphanSweep > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancelCleanup = cancel
		go d.orphanCleanupLoop(ctx, opts.OrphanSweep)
	}

	return d
}

func (d *DockerRunner) Name() string { return BackendDocker }

// orphanCleanupLoop periodically kills sandbox containers that survived a crash.
func (d *DockerRunner) orphanCleanupLoop(ctx context.Context, every time.Duration) {
	d.cleanupOrphans(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cleanupOrphans(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *DockerRunner) cleanupOrphans(ctx context.Context) {
	// Live executions match the same filter; only sweep when idle.
	if d.active.Load() > 0 {
		return
	}
	out, err := d.docker(ctx, "ps", "--filter", "label="+labelRole+"="+roleExecution, "-q").Output()
	if err != nil {
		return
	}
	for _, id := range strings.Fields(string(out)) {
		log.Warn().Str("container_id", id).Msg("killing orphaned sandbox container")
		_ = d.docker(ctx, "rm", "-f", id).Run()
	}
}

// docker builds a docker CLI command pointed at the resolved host.
func (d *DockerRunner) docker(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "docker", args...) // #nosec G204 -- args built internally
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	return cmd
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker Desktop uses
// a context-specific socket that child processes don't inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

// PullImage pulls ref unless it is already present locally.
func (d *DockerRunner) PullImage(ctx context.Context, ref string) error {
	if err := d.docker(ctx, "image", "inspect", ref).Run(); err == nil {
		return nil
	}
	log.Info().Str("ref", ref).Msg("pulling image")
	if out, err := d.docker(ctx, "pull", ref).CombinedOutput(); err != nil {
		return fmt.Errorf("pulling image %s: %w: %s", ref, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DockerRunner) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	return d.executeInternal(ctx, req, nil, nil)
}

func (d *DockerRunner) ExecuteStreaming(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error) {
	return d.executeInternal(ctx, req, stdout, stderr)
}

func (d *DockerRunner) executeInternal(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error) {
	req.ExecID = newExecID(req)
	execID := req.ExecID
	hash := CodeHash(req.Code)

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language.String()).
		Str("code_hash", hash[:16]).
		Logger()

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, failed(req, "execute", ErrClosed)
	}

	p, err := prepare(d.runtimes, req, d.scratchMB)
	if err != nil {
		return nil, failed(req, "validate", err)
	}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, failed(req, "acquire_slot", ctx.Err())
	}

	d.wg.Add(1)
	defer d.wg.Done()
	d.active.Add(1)
	defer d.active.Add(-1)

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	hostDir, err := stageCode(p)
	if err != nil {
		return nil, failed(req, "stage_code", err)
	}
	defer os.RemoveAll(hostDir)

	// The profile sits beside the code but only the code file is mounted.
	profileJSON, err := seccomp.DockerProfileFor(p.lang.Toolchain())
	if err != nil {
		return nil, failed(req, "seccomp_profile", err)
	}
	seccompPath := filepath.Join(hostDir, "seccomp.json")
	if err := os.WriteFile(seccompPath, profileJSON, 0o600); err != nil {
		return nil, failed(req, "write_seccomp", err)
	}

	args := dockerArgs(p, filepath.Join(hostDir, p.lang.SourceFile), seccompPath)

	cmd := d.docker(execCtx, args...)
	cmd.WaitDelay = dockerWaitGrace
	cmd.Stdin = strings.NewReader(p.Stdin)

	stdoutBuf := newCappedBuffer(maxStdoutBytes)
	stderrBuf := newCappedBuffer(maxStderrBytes)
	cmd.Stdout = tee(stdoutBuf, stdout)
	cmd.Stderr = tee(stderrBuf, stderr)

	logger.Info().Str("image", p.lang.Image).Msg("starting docker container")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		ID:       execID,
		Output:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		CodeHash: hash,
		Backend:  BackendDocker,
	}

	if err != nil {
		if execCtx.Err() != nil {
			// Killing the CLI leaves the container running.
			d.removeContainer(containerPrefix + execID)
			if !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				return result, failed(req, "docker_run", execCtx.Err())
			}
			logger.Warn().Dur("timeout", p.Timeout).Msg("execution timed out, container removed")

			result.SecurityEvents = append(result.SecurityEvents, SecurityEvent{
				Type:   "timeout",
				Detail: fmt.Sprintf("execution exceeded %s timeout", p.Timeout),
			})
			return result, ErrTimeout
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, failed(req, "docker_run", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("docker execution completed")

	if result.ExitCode == oomExitCode {
		result.SecurityEvents = append(result.SecurityEvents, SecurityEvent{
			Type:   "oom_kill",
			Detail: "process killed (OOM or resource limit)",
		})
		return result, ErrOOM
	}

	return result, nil
}

func (d *DockerRunner) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.docker(ctx, "rm", "-f", name).Run(); err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to remove container")
	}
}

// dockerArgs renders the hardening contract as docker run flags.
func dockerArgs(p *prepared, hostCodeFile, seccompPath string) []string {
	limits := p.limits
	fsize := limits.DiskMB * 1024 * 1024

	args := []string{
		"run", "--rm", "-i",
		"--name", containerPrefix + p.ExecID,
		"--label", labelRole + "=" + roleExecution,
		"--label", labelExecID + "=" + p.ExecID,
		"--label", labelLanguage + "=" + string(p.lang.Language),
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + seccompPath,
		"--read-only",
		"--tmpfs", scratchMount + ":" + strings.Join(limits.TmpfsOptions(), ","),
		"--ulimit", fmt.Sprintf("nofile=%d:%d", nofileLimit, nofileLimit),
		"--ulimit", fmt.Sprintf("nproc=%d:%d", nprocLimit, nprocLimit),
		"--ulimit", fmt.Sprintf("fsize=%d:%d", fsize, fsize),
		"--ulimit", "core=0:0",
		"--pids-limit", strconv.FormatInt(limits.PidsLimit, 10),
		"--memory", fmt.Sprintf("%dm", limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", limits.MemoryMB),
		"--cpus", strconv.FormatFloat(limits.CPUs(), 'f', 2, 64),
		"--user", sandboxUser,
		"--workdir", scratchMount,
		"--hostname", sandboxHostname,
		"-v", fmt.Sprintf("%s:%s:ro", hostCodeFile, containerCodePath(p)),
	}

	// PATH is left to the image (e.g. /usr/local/go/bin).
	for _, env := range sandboxEnv(p.lang) {
		args = append(args, "-e", env)
	}

	args = append(args, p.lang.Image)
	return append(args, p.lang.Command(containerCodePath(p), scratchMount)...)
}

func (d *DockerRunner) ActiveCount() int64 {
	return d.active.Load()
}

func (d *DockerRunner) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.cancelCleanup != nil {
		d.cancelCleanup()
	}

	drain(&d.wg, &d.active, BackendDocker)
	return nil
}
