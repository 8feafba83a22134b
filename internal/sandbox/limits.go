package sandbox

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"livecode-sandbox/internal/runtime"
)

const (
	cfsPeriod    = uint64(runtime.CFSPeriod)
	nofileLimit  = 256
	// RLIMIT_NPROC counts every process of the uid host-wide, and all
	// sandboxes share uid 65534, so it is a ceiling rather than the per-run cap.
	nprocLimit   = 1024
	defaultDisk  = 64
	scratchMount = "/tmp"
)

type ResourceLimits struct {
	CPUQuota  int64 `json:"cpu_quota"`  // microseconds per 100ms period; 100000 = 1 CPU
	MemoryMB  int64 `json:"memory_mb"`  // Hard memory limit, swap included
	PidsLimit int64 `json:"pids_limit"` // Max processes (fork bomb protection)
	DiskMB    int64 `json:"disk_mb"`    // Size of the scratch tmpfs
	// ScratchExec drops noexec from the scratch mount.
	ScratchExec bool `json:"scratch_exec"`
}

// LimitsFor derives limits from a language's configuration.
func LimitsFor(cfg *runtime.Config, diskMB int64) ResourceLimits {
	if diskMB <= 0 {
		diskMB = defaultDisk
	}
	return ResourceLimits{
		CPUQuota:    cfg.CPUQuota,
		MemoryMB:    cfg.MemoryMB,
		PidsLimit:   cfg.PidsLimit,
		DiskMB:      diskMB,
		ScratchExec: cfg.ScratchExec,
	}
}

func (rl ResourceLimits) Validate() error {
	if rl.CPUQuota < 1000 || rl.CPUQuota > 400000 {
		return fmt.Errorf("%w: cpu_quota must be 1000-400000, got %d", ErrInvalidRequest, rl.CPUQuota)
	}
	if rl.MemoryMB < 16 || rl.MemoryMB > 4096 {
		return fmt.Errorf("%w: memory_mb must be 16-4096, got %d", ErrInvalidRequest, rl.MemoryMB)
	}
	if rl.PidsLimit < 5 || rl.PidsLimit > 1000 {
		return fmt.Errorf("%w: pids_limit must be 5-1000, got %d", ErrInvalidRequest, rl.PidsLimit)
	}
	if rl.DiskMB < 1 || rl.DiskMB > 1024 {
		return fmt.Errorf("%w: disk_mb must be 1-1024, got %d", ErrInvalidRequest, rl.DiskMB)
	}
	return nil
}

// CPUs is the quota expressed as a fraction of one CPU, as docker --cpus wants it.
func (rl ResourceLimits) CPUs() float64 {
	return float64(rl.CPUQuota) / float64(cfsPeriod)
}

// TmpfsOptions are the mount options for the scratch tmpfs.
func (rl ResourceLimits) TmpfsOptions() []string {
	opts := []string{"rw", "nosuid", "nodev"}
	if !rl.ScratchExec {
		opts = append(opts, "noexec")
	}
	return append(opts, fmt.Sprintf("size=%dm", rl.DiskMB), "mode=1777")
}

func ApplyResourceLimits(spec *specs.Spec, limits ResourceLimits) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}

	period := cfsPeriod
	quota := limits.CPUQuota
	if quota < 1000 {
		quota = 1000 // minimum 1ms
	}
	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	memoryBytes := limits.MemoryMB * 1024 * 1024
	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memoryBytes,
		Swap:  &memoryBytes,
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{
		Limit: limits.PidsLimit,
	}

	tmpfsBytes := limits.DiskMB * 1024 * 1024
	spec.Mounts = appendIfNotExists(spec.Mounts, specs.Mount{
		Destination: scratchMount,
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options:     limits.TmpfsOptions(),
	})

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: nofileLimit, Soft: nofileLimit},
		{Type: "RLIMIT_NPROC", Hard: nprocLimit, Soft: nprocLimit},
		{Type: "RLIMIT_FSIZE", Hard: safeUint64(tmpfsBytes), Soft: safeUint64(tmpfsBytes)},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
	}
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func appendIfNotExists(mounts []specs.Mount, m specs.Mount) []specs.Mount {
	for _, existing := range mounts {
		if existing.Destination == m.Destination {
			return mounts
		}
	}
	return append(mounts, m)
}
