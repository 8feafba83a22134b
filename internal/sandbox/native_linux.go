//go:build linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/config"
	"livecode-sandbox/internal/runtime"
)

// isolation selects how a native child is detached from the host.
type isolation int

const (
	// isolateRoot enters fresh namespaces and drops to nobody directly.
	isolateRoot isolation = iota
	// isolateUserNS enters a user namespace first, mapping the server's
	// own uid to nobody, so the same namespaces work without privileges.
	isolateUserNS
	// isolateNone only starts a new process group. Tests use it.
	isolateNone
)

func (i isolation) String() string {
	switch i {
	case isolateRoot:
		return "root"
	case isolateUserNS:
		return "userns"
	default:
		return "none"
	}
}

// NativeRunner runs code as a plain host subprocess. It is the last resort
// when no container runtime is reachable: limits come from ulimit, and the
// child always runs as nobody in its own network, IPC and UTS namespaces.
type NativeRunner struct {
	runtimes  *runtime.Registry
	scratchMB int64
	isolation isolation
	sem       chan struct{}
	active    atomic.Int64
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

func newNativeBackend(cfg *config.Config, reg *runtime.Registry) (Backend, error) {
	if _, err := exec.LookPath("sh"); err != nil {
		return nil, fmt.Errorf("sh not found in PATH: %w", err)
	}
	if os.Geteuid() != 0 {
		if err := userNamespacesAvailable(); err != nil {
			return nil, fmt.Errorf("cannot isolate native executions: %w", err)
		}
	}
	return NewNativeRunner(reg, cfg.Sandbox.MaxConcurrent, cfg.Sandbox.ScratchMB), nil
}

// userNamespacesAvailable reports whether an unprivileged process may create
// a user namespace on this kernel.
func userNamespacesAvailable() error {
	for _, knob := range []string{"/proc/sys/user/max_user_namespaces", "/proc/sys/kernel/unprivileged_userns_clone"} {
		b, err := os.ReadFile(knob)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == "0" {
			return fmt.Errorf("user namespaces disabled by %s", knob)
		}
	}
	return nil
}

func NewNativeRunner(reg *runtime.Registry, maxConcurrent int, scratchMB int64) *NativeRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}
	return &NativeRunner{
		runtimes:  reg,
		scratchMB: scratchMB,
		isolation: defaultIsolation(os.Geteuid()),
		sem:       make(chan struct{}, maxConcurrent),
	}
}

func (n *NativeRunner) Name() string { return BackendNative }

func (n *NativeRunner) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	return n.executeInternal(ctx, req, nil, nil)
}

func (n *NativeRunner) ExecuteStreaming(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error) {
	return n.executeInternal(ctx, req, stdout, stderr)
}

func (n *NativeRunner) executeInternal(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error) {
	req.ExecID = newExecID(req)
	execID := req.ExecID
	hash := CodeHash(req.Code)

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language.String()).
		Str("code_hash", hash[:16]).
		Logger()

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil, failed(req, "execute", ErrClosed)
	}

	p, err := prepare(n.runtimes, req, n.scratchMB)
	if err != nil {
		return nil, failed(req, "validate", err)
	}

	select {
	case n.sem <- struct{}{}:
		defer func() { <-n.sem }()
	case <-ctx.Done():
		return nil, failed(req, "acquire_slot", ctx.Err())
	}

	n.wg.Add(1)
	defer n.wg.Done()
	n.active.Add(1)
	defer n.active.Add(-1)

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dir, err := stageCode(p)
	if err != nil {
		return nil, failed(req, "stage_code", err)
	}
	defer os.RemoveAll(dir)

	scratch := filepath.Join(dir, "scratch")
	if err := os.Mkdir(scratch, 0o700); err != nil {
		return nil, failed(req, "create_scratch", err)
	}
	if err := os.Chmod(scratch, 0o777|os.ModeSticky); err != nil { // #nosec G302 -- mirrors the 1777 tmpfs
		return nil, failed(req, "create_scratch", err)
	}

	argv := p.lang.Command(filepath.Join(dir, p.lang.SourceFile), scratch)
	args := append([]string{"-c", ulimitScript(p), "_"}, argv...)

	cmd := exec.CommandContext(execCtx, "/bin/sh", args...)
	cmd.Dir = scratch
	cmd.Env = nativeEnv(p.lang, scratch)
	cmd.Stdin = strings.NewReader(p.Stdin)
	cmd.SysProcAttr = n.sysProcAttr()
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid targets the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = dockerWaitGrace

	stdoutBuf := newCappedBuffer(maxStdoutBytes)
	stderrBuf := newCappedBuffer(maxStderrBytes)
	cmd.Stdout = tee(stdoutBuf, stdout)
	cmd.Stderr = tee(stderrBuf, stderr)

	logger.Info().Stringer("isolation", n.isolation).Msg("starting native process")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		ID:       execID,
		Output:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		CodeHash: hash,
		Backend:  BackendNative,
	}

	if err != nil {
		if execCtx.Err() != nil {
			if !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				return result, failed(req, "wait", execCtx.Err())
			}
			logger.Warn().Dur("timeout", p.Timeout).Msg("execution timed out, process group killed")
			result.SecurityEvents = append(result.SecurityEvents, SecurityEvent{
				Type:   "timeout",
				Detail: fmt.Sprintf("execution exceeded %s timeout", p.Timeout),
			})
			return result, ErrTimeout
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, failed(req, "run", err)
		}
		result.ExitCode = exitCodeOf(exitErr)
	}

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("native execution completed")

	return result, nil
}

func defaultIsolation(euid int) isolation {
	if euid == 0 {
		return isolateRoot
	}
	return isolateUserNS
}

func (n *NativeRunner) sysProcAttr() *syscall.SysProcAttr {
	return isolationAttr(n.isolation, os.Geteuid(), os.Getegid())
}

// isolationAttr builds the child's process attributes. uid and gid are the
// server's own ids, which the user namespace maps to nobody.
func isolationAttr(mode isolation, uid, gid int) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	switch mode {
	case isolateRoot:
		attr.Cloneflags = syscall.CLONE_NEWNET | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS
		attr.Credential = &syscall.Credential{Uid: nobodyUID, Gid: nobodyGID}
	case isolateUserNS:
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: nobodyUID, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: nobodyGID, HostID: gid, Size: 1}}
		// setgroups is denied in an unprivileged user namespace.
		attr.GidMappingsEnableSetgroups = false
		attr.Credential = &syscall.Credential{Uid: nobodyUID, Gid: nobodyGID, NoSetGroups: true}
	}
	return attr
}

// ulimitScript applies the limits and execs the positional arguments, so user
// input never becomes part of the shell string.
func ulimitScript(p *prepared) string {
	cpuSeconds := int64(p.Timeout/time.Second) + 1
	fileBlocks := p.limits.DiskMB * 2048 // 512-byte blocks

	parts := []string{
		fmt.Sprintf("ulimit -n %d", nofileLimit),
		fmt.Sprintf("ulimit -u %d", nprocLimit),
		fmt.Sprintf("ulimit -f %d", fileBlocks),
		fmt.Sprintf("ulimit -t %d", cpuSeconds),
		"ulimit -c 0",
	}
	if !p.lang.LargeAddressSpace {
		parts = append(parts, fmt.Sprintf("ulimit -v %d", p.limits.MemoryMB*1024))
	}

	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part)
		b.WriteString(" 2>/dev/null; ")
	}
	b.WriteString(`exec "$@"`)
	return b.String()
}

// nativeEnv never inherits the host environment. Language paths under /tmp
// are moved into the per-run scratch directory.
func nativeEnv(lang *runtime.Config, scratch string) []string {
	env := []string{
		defaultPath,
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=C.UTF-8",
		"SANDBOX=true",
	}
	for _, kv := range lang.Env {
		key, value, _ := strings.Cut(kv, "=")
		if rest, ok := strings.CutPrefix(value, scratchMount); ok {
			value = scratch + rest
		}
		env = append(env, key+"="+value)
	}
	return env
}

// exitCodeOf reports signals the way shells do, as 128+signo.
func exitCodeOf(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

func (n *NativeRunner) ActiveCount() int64 {
	return n.active.Load()
}

func (n *NativeRunner) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	drain(&n.wg, &n.active, BackendNative)
	return nil
}
