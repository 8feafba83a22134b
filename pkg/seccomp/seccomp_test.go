package seccomp

import (
	"encoding/json"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestDefaultProfile_DenyByDefault(t *testing.T) {
	p := DefaultProfile()
	if p.DefaultAction != specs.ActErrno {
		t.Errorf("DefaultAction = %v, want ActErrno", p.DefaultAction)
	}
}

func TestDefaultProfile_NoNetworkSyscalls(t *testing.T) {
	for _, p := range []*specs.LinuxSeccomp{DefaultProfile(), ToolchainProfile()} {
		for _, name := range []string{"socket", "connect", "bind"} {
			if Allows(p, name) {
				t.Errorf("profile should not allow %q", name)
			}
		}
	}
}

func TestToolchainProfile_ExtendsDefault(t *testing.T) {
	def := DefaultProfile()
	tc := ToolchainProfile()

	if Allows(def, "sched_getaffinity") {
		t.Error("default profile should not allow sched_getaffinity")
	}
	if !Allows(tc, "sched_getaffinity") {
		t.Error("toolchain profile should allow sched_getaffinity")
	}
	for _, name := range []string{"read", "write", "execve", "memfd_create"} {
		if !Allows(tc, name) {
			t.Errorf("toolchain profile missing base syscall %q", name)
		}
	}
}

func TestProfile_Selects(t *testing.T) {
	if Allows(Profile(false), "rseq") {
		t.Error("Profile(false) should be the default profile")
	}
	if !Allows(Profile(true), "rseq") {
		t.Error("Profile(true) should be the toolchain profile")
	}
}

func TestDockerProfileJSON_ValidJSON(t *testing.T) {
	for name, fn := range map[string]func() ([]byte, error){
		"default":   DockerProfileJSON,
		"toolchain": DockerToolchainProfileJSON,
	} {
		t.Run(name, func(t *testing.T) {
			data, err := fn()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var dp struct {
				DefaultAction string   `json:"defaultAction"`
				Architectures []string `json:"architectures"`
				Syscalls      []struct {
					Names  []string `json:"names"`
					Action string   `json:"action"`
				} `json:"syscalls"`
			}
			if err := json.Unmarshal(data, &dp); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if dp.DefaultAction != "SCMP_ACT_ERRNO" {
				t.Errorf("defaultAction = %q, want SCMP_ACT_ERRNO", dp.DefaultAction)
			}
			if len(dp.Architectures) != 2 {
				t.Errorf("architectures = %v, want 2 entries", dp.Architectures)
			}
			if len(dp.Syscalls) == 0 {
				t.Error("expected syscall rules, got none")
			}
		})
	}
}

func TestMarshalDocker_Nil(t *testing.T) {
	if _, err := MarshalDocker(nil); err == nil {
		t.Error("expected error for nil profile")
	}
}

func TestProfileBuilder(t *testing.T) {
	p := NewBuilder().AllowSyscalls("read", "write").BlockSyscalls().Build()

	if len(p.Syscalls) != 1 {
		t.Fatalf("got %d rules, want 1 (empty rule lists are skipped)", len(p.Syscalls))
	}
	rule := p.Syscalls[0]
	if rule.Action != specs.ActAllow {
		t.Errorf("rule Action = %v, want ActAllow", rule.Action)
	}
	if len(rule.Names) != 2 || rule.Names[0] != "read" || rule.Names[1] != "write" {
		t.Errorf("names = %v, want [read write]", rule.Names)
	}
}
