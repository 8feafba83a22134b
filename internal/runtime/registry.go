package runtime

import (
	"fmt"
	"sort"
)

// Registry holds the configuration of every supported language.
type Registry struct {
	configs map[Language]*Config
}

// NewRegistry creates a registry with all supported languages.
func NewRegistry() *Registry {
	r := &Registry{
		configs: make(map[Language]*Config, len(All())),
	}
	for _, l := range All() {
		cfg := configFor(l)
		cfg.compile()
		r.configs[l] = cfg
	}
	return r
}

func configFor(l Language) *Config {
	switch l {
	case Python:
		return pythonConfig()
	case JavaScript:
		return javascriptConfig()
	case Java:
		return javaConfig()
	case Cpp:
		return cppConfig()
	case Go:
		return goConfig()
	case Bash:
		return bashConfig()
	default:
		panic(fmt.Sprintf("runtime: no configuration for language %q", l))
	}
}

// Get returns the configuration for the given language.
func (r *Registry) Get(lang Language) (*Config, error) {
	cfg, ok := r.configs[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownLanguage, lang, supportedList())
	}
	return cfg, nil
}

// Lookup parses a language name or alias and returns its configuration.
func (r *Registry) Lookup(name string) (*Config, error) {
	lang, err := ParseLanguage(name)
	if err != nil {
		return nil, err
	}
	return r.Get(lang)
}

// Languages returns all registered languages, sorted by name.
func (r *Registry) Languages() []Language {
	langs := make([]Language, 0, len(r.configs))
	for l := range r.configs {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// Images returns the distinct container images needed by registered languages.
func (r *Registry) Images() []string {
	seen := make(map[string]struct{}, len(r.configs))
	images := make([]string, 0, len(r.configs))
	for _, cfg := range r.configs {
		if _, ok := seen[cfg.Image]; ok {
			continue
		}
		seen[cfg.Image] = struct{}{}
		images = append(images, cfg.Image)
	}
	sort.Strings(images)
	return images
}

// Template returns the starter code for a language.
func (r *Registry) Template(lang Language) (string, error) {
	cfg, err := r.Get(lang)
	if err != nil {
		return "", err
	}
	return cfg.Template, nil
}

// Examples returns the example snippets for a language.
func (r *Registry) Examples(lang Language) ([]Example, error) {
	cfg, err := r.Get(lang)
	if err != nil {
		return nil, err
	}
	return cfg.Examples, nil
}
