package seccomp

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ProfileBuilder assembles a deny-by-default seccomp profile.
type ProfileBuilder struct {
	profile *specs.LinuxSeccomp
}

func NewBuilder() *ProfileBuilder {
	return &ProfileBuilder{
		profile: &specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

func (b *ProfileBuilder) rule(action specs.LinuxSeccompAction, names []string) *ProfileBuilder {
	if len(names) == 0 {
		return b
	}
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: action,
	})
	return b
}

func (b *ProfileBuilder) AllowSyscalls(names ...string) *ProfileBuilder {
	return b.rule(specs.ActAllow, names)
}

func (b *ProfileBuilder) BlockSyscalls(names ...string) *ProfileBuilder {
	return b.rule(specs.ActErrno, names)
}

// TrapSyscalls sends SIGSYS instead of returning EPERM, so attempts show up as crashes.
func (b *ProfileBuilder) TrapSyscalls(names ...string) *ProfileBuilder {
	return b.rule(specs.ActTrap, names)
}

func (b *ProfileBuilder) Build() *specs.LinuxSeccomp {
	return b.profile
}

// Allows reports whether the profile has an explicit allow rule for the syscall.
func Allows(p *specs.LinuxSeccomp, name string) bool {
	for _, rule := range p.Syscalls {
		if rule.Action != specs.ActAllow {
			continue
		}
		for _, n := range rule.Names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// dockerProfile is the subset of the moby seccomp format that docker run accepts.
type dockerProfile struct {
	DefaultAction specs.LinuxSeccompAction `json:"defaultAction"`
	Architectures []specs.Arch             `json:"architectures,omitempty"`
	Syscalls      []dockerSyscall          `json:"syscalls"`
}

type dockerSyscall struct {
	Names  []string                 `json:"names"`
	Action specs.LinuxSeccompAction `json:"action"`
}

// MarshalDocker renders a profile as JSON for `docker run --security-opt seccomp=<file>`.
func MarshalDocker(p *specs.LinuxSeccomp) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil seccomp profile")
	}
	dp := dockerProfile{
		DefaultAction: p.DefaultAction,
		Architectures: p.Architectures,
		Syscalls:      make([]dockerSyscall, 0, len(p.Syscalls)),
	}
	for _, rule := range p.Syscalls {
		dp.Syscalls = append(dp.Syscalls, dockerSyscall{Names: rule.Names, Action: rule.Action})
	}
	return json.MarshalIndent(dp, "", "  ")
}
