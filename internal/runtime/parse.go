package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsedError is compiler or runtime output reduced to its essentials.
type ParsedError struct {
	Line      *int   `json:"line"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Formatted string `json:"formatted"`
	// Matched is false when no pattern applied and Formatted is the raw output.
	Matched bool `json:"-"`
}

// ParseError applies the language's error patterns in order; the first match wins.
func (r *Registry) ParseError(output string, lang Language) ParsedError {
	raw := strings.TrimSpace(output)

	cfg, err := r.Get(lang)
	if err != nil {
		return ParsedError{Type: "unknown", Message: raw, Formatted: raw}
	}

	for _, p := range cfg.ErrorPatterns {
		if parsed, ok := p.apply(output); ok {
			return parsed
		}
	}

	return ParsedError{Type: "Error", Message: raw, Formatted: raw}
}

func (p ErrorPattern) apply(output string) (ParsedError, bool) {
	m := p.re.FindStringSubmatch(output)
	if m == nil {
		return ParsedError{}, false
	}
	group := func(i int) (string, bool) {
		if i <= 0 || i >= len(m) {
			return "", false
		}
		return m[i], true
	}

	parsed := ParsedError{Matched: true, Type: "Error"}
	if p.Type != "" {
		parsed.Type = p.Type
	}

	if s, ok := group(p.LineGroup); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return ParsedError{}, false
		}
		parsed.Line = &n
	}
	if s, ok := group(p.TypeGroup); ok && s != "" {
		parsed.Type = s
	}
	if s, ok := group(p.MessageGroup); ok {
		parsed.Message = strings.TrimSpace(s)
	} else {
		parsed.Message = strings.TrimSpace(output)
	}

	if parsed.Line != nil {
		parsed.Formatted = fmt.Sprintf("Line %d: %s: %s", *parsed.Line, parsed.Type, parsed.Message)
	} else {
		parsed.Formatted = fmt.Sprintf("%s: %s", parsed.Type, parsed.Message)
	}
	return parsed, true
}
