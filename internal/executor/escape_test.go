package executor

import (
	"context"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/internal/sandbox"
)

// dockerOrchestrator runs against the real docker backend, skipping when no
// daemon is reachable.
func dockerOrchestrator(t testing.TB) *Orchestrator {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker test in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker daemon not reachable")
	}

	reg := runtime.NewRegistry()
	backend := sandbox.NewDockerRunner(sandbox.DockerOptions{Registry: reg, MaxConcurrent: 4, ScratchMB: 16})
	t.Cleanup(func() { _ = backend.Close() })
	return New(Options{Registry: reg, Backend: backend})
}

func TestDocker_EscapeAttempts(t *testing.T) {
	o := dockerOrchestrator(t)

	tests := []struct {
		name       string
		language   runtime.Language
		code       string
		shouldFail bool
	}{
		{"read shadow", runtime.Bash, "cat /etc/shadow", true},
		{"mount", runtime.Bash, "mount /dev/sda1 /mnt", true},
		{"write root filesystem", runtime.Bash, "echo pwned > /pwned.txt", true},
		{"kernel module", runtime.Bash, "insmod /tmp/evil.ko", true},
		{"change hostname", runtime.Bash, "hostname evil", true},
		{"ctypes", runtime.Python, "import ctypes; ctypes.CDLL(None).ptrace(0, 1, 0, 0)", true},
		{"cloud metadata", runtime.Python, "import urllib.request; urllib.request.urlopen('http://169.254.169.254/', timeout=2)", true},
		{"memory bomb", runtime.Python, "x = []\nwhile True:\n    x.append('A' * 1024 * 1024)", true},

		{"python hello", runtime.Python, "print('hello world')", false},
		{"javascript hello", runtime.JavaScript, "console.log('hello world')", false},
		{"bash hello", runtime.Bash, "echo 'hello world'", false},
		{"write tmp", runtime.Bash, "echo data > /tmp/test.txt && cat /tmp/test.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := o.Execute(context.Background(), Request{Code: tt.code, Language: tt.language, Timeout: 20})
			if tt.shouldFail {
				assert.NotZero(t, res.ExitCode, "escape succeeded\nstdout: %s\nstderr: %s", res.Stdout, res.Stderr)
				return
			}
			assert.Zero(t, res.ExitCode, "stderr: %s", res.Stderr)
		})
	}
}

func TestDocker_Timeout(t *testing.T) {
	o := dockerOrchestrator(t)

	res := o.Execute(context.Background(), Request{Code: "import time\ntime.sleep(60)", Language: runtime.Python, Timeout: 2})
	assert.True(t, res.TimedOut)
	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Empty(t, res.Stdout)
	assert.Less(t, res.ExecutionTime, 30.0)
}

func TestDocker_ConcurrentIsolation(t *testing.T) {
	o := dockerOrchestrator(t)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Execute(context.Background(), Request{
				Code:     "import os\nprint(os.uname().nodename)",
				Language: runtime.Python,
			})
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Zero(t, r.ExitCode, "stderr: %s", r.Stderr)
	}
	assert.NotEqual(t, results[0].ExecutionID, results[1].ExecutionID)
}

func BenchmarkExecute(b *testing.B) {
	o := New(Options{Backend: &fakeBackend{stdout: "hello\n"}})
	req := Request{Code: "print('hello')", Language: runtime.Python}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		o.Execute(context.Background(), req)
	}
}
