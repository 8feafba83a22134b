package runtime

import (
	"path/filepath"
	"strings"
)

const detectLines = 10

// DetectFromFilename matches a file name against each language's extension and
// file patterns.
func (r *Registry) DetectFromFilename(name string) (Language, bool) {
	lower := strings.ToLower(filepath.Base(name))
	for _, l := range All() {
		cfg, ok := r.configs[l]
		if !ok {
			continue
		}
		if strings.HasSuffix(lower, cfg.Extension) {
			return l, true
		}
		for _, pattern := range cfg.FilePatterns {
			if ok, _ := filepath.Match(strings.ToLower(pattern), lower); ok {
				return l, true
			}
		}
	}
	return "", false
}

// DetectFromContent scores the first lines of content against each language's
// content patterns and returns the best scoring language. Ties go to the
// language listed first by All.
func (r *Registry) DetectFromContent(content string) (Language, bool) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > detectLines {
		lines = lines[:detectLines]
	}
	sample := strings.Join(lines, "\n")

	var best Language
	bestScore := 0
	for _, l := range All() {
		cfg, ok := r.configs[l]
		if !ok {
			continue
		}
		score := 0
		for _, re := range cfg.contentRes {
			if re.MatchString(sample) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = l, score
		}
	}
	return best, bestScore > 0
}
