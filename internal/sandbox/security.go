package sandbox

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/pkg/seccomp"
)

const (
	nobodyUID = 65534
	nobodyGID = 65534

	sandboxHostname = "sandbox"
)

// Host information a submission has no business reading.
var maskedPaths = []string{
	"/proc/acpi",
	"/proc/kcore",
	"/proc/keys",
	"/proc/latency_stats",
	"/proc/timer_list",
	"/proc/timer_stats",
	"/proc/sched_debug",
	"/proc/scsi",
	"/sys/firmware",
	"/sys/devices/virtual/powercap",
}

var readonlyPaths = []string{
	"/proc/asound",
	"/proc/bus",
	"/proc/fs",
	"/proc/irq",
	"/proc/sys",
	"/proc/sysrq-trigger",
}

// SecurityProfile is the OCI hardening applied to every language container.
// Only the seccomp filter depends on the language.
type SecurityProfile struct {
	Language runtime.Language
	Seccomp  *specs.LinuxSeccomp
	Hostname string
	User     specs.User
}

// SecurityProfileFor widens the seccomp filter for languages that compile
// or exec from the scratch mount before running.
func SecurityProfileFor(lang *runtime.Config) SecurityProfile {
	return SecurityProfile{
		Language: lang.Language,
		Seccomp:  seccomp.Profile(lang.Toolchain()),
		Hostname: sandboxHostname,
		User:     specs.User{UID: nobodyUID, GID: nobodyGID},
	}
}

// ApplySecurityProfile drops every capability, isolates the namespaces
// (network included) and makes the root filesystem read-only.
func ApplySecurityProfile(spec *specs.Spec, profile SecurityProfile) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	if spec.Root == nil {
		spec.Root = &specs.Root{}
	}

	none := []string{}
	spec.Process.Capabilities = &specs.LinuxCapabilities{
		Bounding:    none,
		Effective:   none,
		Inheritable: none,
		Permitted:   none,
		Ambient:     none,
	}
	spec.Process.NoNewPrivileges = true
	spec.Process.User = profile.User

	spec.Linux.Seccomp = profile.Seccomp
	spec.Linux.Namespaces = []specs.LinuxNamespace{
		{Type: specs.PIDNamespace},
		{Type: specs.NetworkNamespace},
		{Type: specs.MountNamespace},
		{Type: specs.UTSNamespace},
		{Type: specs.IPCNamespace},
	}
	spec.Linux.MaskedPaths = append([]string(nil), maskedPaths...)
	spec.Linux.ReadonlyPaths = append([]string(nil), readonlyPaths...)

	spec.Hostname = profile.Hostname
	spec.Root.Readonly = true
}
