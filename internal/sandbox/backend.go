package sandbox

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	goruntime "runtime"

	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/config"
	"livecode-sandbox/internal/runtime"
)

// Backend runs a single prepared execution under the hardening contract.
// Implementations return a partial result alongside ErrTimeout or ErrOOM.
type Backend interface {
	Name() string
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
	ExecuteStreaming(ctx context.Context, req ExecutionRequest, stdout, stderr io.Writer) (*ExecutionResult, error)
	Close() error
}

// ImagePuller is implemented by backends that run language images.
type ImagePuller interface {
	PullImage(ctx context.Context, ref string) error
}

const (
	BackendContainerd = "containerd"
	BackendDocker     = "docker"
	BackendNative     = "native"
)

// Probe picks the backend once at startup. In auto mode it tries containerd
// (linux only), then the docker CLI, then native subprocesses when allowed.
func Probe(ctx context.Context, cfg *config.Config, reg *runtime.Registry) (Backend, error) {
	preference := cfg.Sandbox.Backend
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case BackendContainerd:
		return newContainerdBackend(ctx, cfg, reg)
	case BackendDocker:
		return newDockerBackend(ctx, cfg, reg)
	case BackendNative:
		return newNativeBackend(cfg, reg)
	case "auto":
		if goruntime.GOOS == "linux" {
			backend, err := newContainerdBackend(ctx, cfg, reg)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}

		backend, err := newDockerBackend(ctx, cfg, reg)
		if err == nil {
			log.Info().Msg("using Docker backend")
			return backend, nil
		}
		log.Warn().Err(err).Msg("docker unavailable")

		if cfg.Sandbox.AllowNative {
			backend, err := newNativeBackend(cfg, reg)
			if err == nil {
				log.Warn().Msg("using native process backend; isolation is limited to ulimits and namespaces")
				return backend, nil
			}
			log.Warn().Err(err).Msg("native backend unavailable")
		}

		return nil, fmt.Errorf("%w: install Docker or containerd, or set sandbox.allow_native", ErrBackendUnavailable)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, containerd, docker or native", preference)
	}
}

func newContainerdBackend(ctx context.Context, cfg *config.Config, reg *runtime.Registry) (Backend, error) {
	client, err := NewClient(ctx, cfg.Sandbox.ContainerdSocket, cfg.Sandbox.Namespace)
	if err != nil {
		return nil, err
	}

	runner := NewRunner(client, RunnerOptions{
		Registry:      reg,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		ScratchMB:     cfg.Sandbox.ScratchMB,
		OrphanSweep:   cfg.Sandbox.OrphanSweep,
	})

	if n, err := runner.ReapOrphans(ctx); err != nil {
		log.Warn().Err(err).Msg("startup orphan sweep failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("removed orphaned execution containers")
	}

	return runner, nil
}

func newDockerBackend(ctx context.Context, cfg *config.Config, reg *runtime.Registry) (Backend, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker not found in PATH: %w", err)
	}

	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil { // #nosec G204 -- constant args
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}

	return NewDockerRunner(DockerOptions{
		Registry:      reg,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		ScratchMB:     cfg.Sandbox.ScratchMB,
		OrphanSweep:   cfg.Sandbox.OrphanSweep,
	}), nil
}
