package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// EscapeDetector screens submitted code before it reaches a sandbox and scans
// output afterwards. Blocking patterns reject code outright; the rest are
// recorded as security events.
type EscapeDetector struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
	// Block rejects the code when the pattern matches.
	Block bool
	// Languages restricts the pattern; empty applies it everywhere.
	Languages []string
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
}

// NewEscapeDetector creates a detector with default patterns.
func NewEscapeDetector() *EscapeDetector {
	return &EscapeDetector{
		patterns: append(blockingPatterns(), defaultPatterns()...),
	}
}

// AnalyzeCode checks code against every pattern regardless of language.
func (d *EscapeDetector) AnalyzeCode(code string) []Detection {
	return d.analyze(code, "")
}

// AnalyzeCodeFor checks code against the patterns that apply to language.
func (d *EscapeDetector) AnalyzeCodeFor(code, language string) []Detection {
	return d.analyze(code, language)
}

func (d *EscapeDetector) analyze(code, language string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if !p.appliesTo(language) || !p.Regex.MatchString(line) {
				continue
			}
			detections = append(detections, Detection{
				Pattern:  p.Name,
				Severity: p.Severity.String(),
				Detail:   p.Description,
				Line:     i + 1,
				Blocked:  p.Block,
			})

			log.Warn().
				Str("pattern", p.Name).
				Str("severity", p.Severity.String()).
				Bool("blocked", p.Block).
				Int("line", i+1).
				Msg("suspicious pattern detected in code")
		}
	}

	return detections
}

func (p DetectionPattern) appliesTo(language string) bool {
	if language == "" || len(p.Languages) == 0 {
		return true
	}
	for _, l := range p.Languages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first detection that rejects the code.
func FirstBlocking(dets []Detection) (Detection, bool) {
	for _, det := range dets {
		if det.Blocked {
			return det, true
		}
	}
	return Detection{}, false
}

// AnalyzeOutput checks execution output for signs of successful escape.
func (d *EscapeDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"kernel_leak", "Linux version", SeverityHigh},
		{"root_access", "root:x:0:0", SeverityCritical},
		{"docker_socket", "docker.sock", SeverityCritical},
		{"containerd_socket", "containerd.sock", SeverityCritical},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func blockingPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "ctypes_import",
			Description: "Import of 'ctypes' module is not allowed",
			Regex:       regexp.MustCompile(`(?i)\bimport\s+ctypes\b|\bfrom\s+ctypes\s+import\b`),
			Severity:    SeverityCritical,
			Block:       true,
		},
		{
			Name:        "imp_import",
			Description: "Import of 'imp' module is not allowed",
			Regex:       regexp.MustCompile(`(?i)\bimport\s+imp\b|\bfrom\s+imp\s+import\b`),
			Severity:    SeverityHigh,
			Block:       true,
			Languages:   []string{"python"},
		},
		{
			Name:        "importlib_dunder_import",
			Description: "Import of 'importlib.__import__' is not allowed",
			Regex:       regexp.MustCompile(`(?i)\bimport\s+importlib\.__import__\b|\bfrom\s+importlib\s+import\s+__import__\b`),
			Severity:    SeverityHigh,
			Block:       true,
			Languages:   []string{"python"},
		},
		{
			Name:        "dunder_import_call",
			Description: "Use of '__import__' function is not allowed",
			Regex:       regexp.MustCompile(`\b__import__\s*\(`),
			Severity:    SeverityHigh,
			Block:       true,
			Languages:   []string{"python"},
		},
		{
			// Builtin compile() only; re.compile() and friends are attribute calls.
			Name:        "compile_call",
			Description: "Use of 'compile' function is not allowed",
			Regex:       regexp.MustCompile(`(?:^|[^.\w])compile\s*\(`),
			Severity:    SeverityHigh,
			Block:       true,
			Languages:   []string{"python"},
		},
	}
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "proc_self_access",
			Description: "Accessing /proc/self for process info",
			Regex:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|status)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "container_breakout",
			Description: "Attempting container breakout via cgroup",
			Regex:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "host_mount_access",
			Description: "Attempting to access host runtime sockets",
			Regex:       regexp.MustCompile(`/var/run/docker|/var/run/containerd|/run/containerd`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "kernel_exploit",
			Description: "Potential kernel exploitation attempt",
			Regex:       regexp.MustCompile(`(?i)(dirty.?cow|dirty.?pipe|userfaultfd)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "metadata_service",
			Description: "Attempting to reach cloud metadata service",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "reverse_shell",
			Description: "Potential reverse shell command",
			Regex:       regexp.MustCompile(`(?i)\b(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "capability_abuse",
			Description: "Attempting to manipulate capabilities",
			Regex:       regexp.MustCompile(`(?i)(cap_sys_admin|cap_net_raw|setcap|getcap|capsh)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "ptrace_attempt",
			Description: "Attempting to use ptrace for debugging/injection",
			Regex:       regexp.MustCompile(`(?i)(\bptrace\b|process_vm_readv|process_vm_writev|PTRACE_ATTACH)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "fork_bomb",
			Description: "Unbounded process creation",
			Regex:       regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&|while\s*\(?\s*(1|true)\s*\)?\s*[:{]?\s*(os\.)?fork\(`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "crypto_miner",
			Description: "Potential cryptocurrency mining",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight)`),
			Severity:    SeverityMedium,
		},
	}
}
