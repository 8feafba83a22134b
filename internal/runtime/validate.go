package runtime

import (
	"strings"
)

// MaxCodeSize is the largest source accepted, in bytes.
const MaxCodeSize = 100 * 1024

// Issue is a single finding from Validate.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
}

// Validate checks code against the language's rules. ok is false when any
// issue has error severity.
func (r *Registry) Validate(code string, lang Language) (bool, []Issue) {
	cfg, err := r.Get(lang)
	if err != nil {
		return false, []Issue{{Severity: SeverityError, Message: "Unsupported language: " + string(lang)}}
	}

	if strings.TrimSpace(code) == "" {
		return false, []Issue{{Severity: SeverityError, Message: "Code cannot be empty"}}
	}
	if len(code) > MaxCodeSize {
		return false, []Issue{{Severity: SeverityError, Message: "Code is too large (max 100KB)"}}
	}

	var issues []Issue
	for _, rule := range cfg.Rules {
		issues = append(issues, rule.check(code)...)
	}

	return !HasErrors(issues), issues
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// FirstError returns the message of the first error-severity issue.
func FirstError(issues []Issue) string {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return is.Message
		}
	}
	return ""
}

func (rule ValidationRule) check(code string) []Issue {
	switch rule.Kind {
	case RequirePattern:
		if rule.re.MatchString(code) {
			return nil
		}
		return []Issue{{Severity: rule.Severity, Message: rule.Message, Line: 1, Pattern: rule.Expr}}
	default:
		var issues []Issue
		for _, loc := range rule.re.FindAllStringSubmatchIndex(code, -1) {
			if rule.allowed(code, loc) {
				continue
			}
			issues = append(issues, Issue{
				Severity: rule.Severity,
				Message:  rule.Message,
				Line:     lineAt(code, loc[0]),
				Pattern:  rule.Expr,
			})
		}
		return issues
	}
}

func (rule ValidationRule) allowed(code string, loc []int) bool {
	if len(rule.AllowNames) == 0 || len(loc) < 4 || loc[2] < 0 {
		return false
	}
	name := code[loc[2]:loc[3]]
	for _, a := range rule.AllowNames {
		if name == a {
			return true
		}
	}
	return false
}

func lineAt(code string, offset int) int {
	return strings.Count(code[:offset], "\n") + 1
}
