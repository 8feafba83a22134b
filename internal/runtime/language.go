package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLanguage is returned for language names or values the registry does not know.
var ErrUnknownLanguage = errors.New("unknown language")

// Language is the closed set of languages the sandbox can run.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	Java       Language = "java"
	Cpp        Language = "cpp"
	Go         Language = "go"
	Bash       Language = "bash"
)

var aliases = map[string]Language{
	"js":     JavaScript,
	"node":   JavaScript,
	"c++":    Cpp,
	"golang": Go,
	"sh":     Bash,
}

// All returns every supported language in a stable order.
func All() []Language {
	return []Language{Python, JavaScript, Java, Cpp, Go, Bash}
}

// ParseLanguage accepts canonical names and common aliases, case-insensitively.
func ParseLanguage(s string) (Language, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, l := range All() {
		if string(l) == name {
			return l, nil
		}
	}
	if l, ok := aliases[name]; ok {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownLanguage, s, supportedList())
}

func (l Language) String() string { return string(l) }

// Valid reports whether l is one of the constants above.
func (l Language) Valid() bool {
	for _, known := range All() {
		if l == known {
			return true
		}
	}
	return false
}

func supportedList() string {
	names := make([]string, 0, len(All()))
	for _, l := range All() {
		names = append(names, string(l))
	}
	return strings.Join(names, ", ")
}
