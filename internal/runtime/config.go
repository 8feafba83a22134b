package runtime

import (
	"fmt"
	"regexp"
	"time"
)

// Severity grades a validation issue. Only SeverityError rejects code.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// RuleKind says whether a rule fires on a match or on the absence of one.
type RuleKind int

const (
	ForbidPattern RuleKind = iota
	RequirePattern
)

// ValidationRule is a case-insensitive, multiline regex check over the source.
type ValidationRule struct {
	Kind     RuleKind
	Expr     string
	Message  string
	Severity Severity

	// For ForbidPattern rules with a capture group: matches whose first group is
	// listed here are not reported.
	AllowNames []string

	re *regexp.Regexp
}

func forbid(expr, msg string, sev Severity) ValidationRule {
	return ValidationRule{Kind: ForbidPattern, Expr: expr, Message: msg, Severity: sev, re: regexp.MustCompile("(?im)" + expr)}
}

func require(expr, msg string, sev Severity) ValidationRule {
	return ValidationRule{Kind: RequirePattern, Expr: expr, Message: msg, Severity: sev, re: regexp.MustCompile("(?im)" + expr)}
}

func (r ValidationRule) allowing(names ...string) ValidationRule {
	r.AllowNames = names
	return r
}

// ErrorPattern extracts a line, message and type from compiler or runtime output.
// A zero group index means the pattern has no such group; Type is used when
// TypeGroup is zero.
type ErrorPattern struct {
	Expr         string
	LineGroup    int
	MessageGroup int
	TypeGroup    int
	Type         string

	re *regexp.Regexp
}

func errorPattern(expr string, line, msg, typ int, fixedType string) ErrorPattern {
	return ErrorPattern{
		Expr:         expr,
		LineGroup:    line,
		MessageGroup: msg,
		TypeGroup:    typ,
		Type:         fixedType,
		re:           regexp.MustCompile("(?m)" + expr),
	}
}

// Example is a runnable snippet shown to users.
type Example struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// Config describes how one language is validated, compiled and run.
type Config struct {
	Language    Language
	DisplayName string
	Extension   string
	// SourceFile is the name the code is written under inside the sandbox.
	SourceFile string
	Image      string

	// Run is the interpreter argv; the code path is appended.
	Run []string
	// CompileScript, when set, replaces Run: it is passed to `sh -c` with the
	// scratch dir as $1 and the code path as $2.
	CompileScript string
	Env           []string

	Timeout   time.Duration
	MemoryMB  int64
	CPUQuota  int64
	PidsLimit int64
	// ScratchExec mounts the scratch tmpfs without noexec, for toolchains that
	// execute what they build.
	ScratchExec bool
	// LargeAddressSpace marks runtimes that reserve far more virtual memory
	// than they use, so an address-space rlimit would break them.
	LargeAddressSpace bool

	Rules           []ValidationRule
	ErrorPatterns   []ErrorPattern
	Template        string
	Examples        []Example
	FilePatterns    []string
	ContentPatterns []string

	contentRes []*regexp.Regexp
}

// CFSPeriod is the scheduler period CPUQuota is expressed against.
const CFSPeriod = 100000

// Command returns the argv that runs the code at codePath.
func (c *Config) Command(codePath, scratchDir string) []string {
	if c.CompileScript != "" {
		return []string{"sh", "-c", c.CompileScript, "sh", scratchDir, codePath}
	}
	argv := make([]string, 0, len(c.Run)+1)
	argv = append(argv, c.Run...)
	return append(argv, codePath)
}

// Toolchain reports whether the language builds before it runs.
func (c *Config) Toolchain() bool {
	return c.CompileScript != "" || c.ScratchExec
}

// MemoryLimit renders MemoryMB in docker notation, e.g. "128m".
func (c *Config) MemoryLimit() string {
	return fmt.Sprintf("%dm", c.MemoryMB)
}

// CPUs converts the CFS quota into a fractional CPU count.
func (c *Config) CPUs() float64 {
	return float64(c.CPUQuota) / CFSPeriod
}

func (c *Config) compile() {
	c.contentRes = make([]*regexp.Regexp, 0, len(c.ContentPatterns))
	for _, p := range c.ContentPatterns {
		c.contentRes = append(c.contentRes, regexp.MustCompile("(?im)"+p))
	}
}
