package aliasing

import (
	"log/slog"
	"regexp"
	"strings"
)

type (
	// compiledPattern holds a pre-compiled regex pattern and its canonical template.
	compiledPattern struct {
		regex     *regexp.Regexp
		canonical string
		variables []string
	}

	// Resolver resolves incoming topic names to their canonical form.
	// Thread-safe for concurrent use (immutable after construction).
	//
	// Resolution order:
	//  1. Exact aliases from topic_aliases (fastest, most common case)
	//  2. Topic patterns from topic_patterns, in declaration order
	//  3. Identity - an unconfigured topic resolves to itself
	//
	// Pattern syntax:
	//   - {variable} captures any characters except "."
	//   - {variable*} captures any characters including "." (whole suffixes)
	//   - Literal characters match exactly
	//   - First matching pattern wins (order matters)
	Resolver struct {
		aliases  map[string]string
		patterns []compiledPattern
	}
)

// variableRegex matches {name} or {name*} placeholders in the pattern string.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern string to a compiled regex.
//
// Pattern: "legacy.{name}" → Regex: ^legacy\.(?P<name>[^.]+)$.
// Pattern: "app.{rest*}" → Regex: ^app\.(?P<rest>.+)$.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	variables := make([]string, 0, 4) //nolint:mnd // preallocate for typical pattern

	// Escape regex special characters in literal parts
	escaped := regexp.QuoteMeta(pattern)

	// Replace escaped variable placeholders with capture groups
	// QuoteMeta escapes { and }, so we look for \{...\}
	result := escaped

	// Find all variables in original pattern
	matches := variableRegex.FindAllStringSubmatch(pattern, -1)
	for _, match := range matches {
		fullMatch := match[0] // e.g., "{name}" or "{rest*}"
		varName := match[1]   // e.g., "name" or "rest"
		isGreedy := strings.HasSuffix(fullMatch, "*}")

		variables = append(variables, varName)

		// Build the capture group
		var captureGroup string
		if isGreedy {
			// {var*} captures anything including dots
			captureGroup = "(?P<" + varName + ">.+)"
		} else {
			// {var} captures anything except dots
			captureGroup = "(?P<" + varName + ">[^.]+)"
		}

		// Replace the escaped version in the result
		escapedVar := regexp.QuoteMeta(fullMatch)
		result = strings.Replace(result, escapedVar, captureGroup, 1)
	}

	// Anchor the regex to match the entire topic
	result = "^" + result + "$"

	regex, err := regexp.Compile(result)
	if err != nil {
		return nil, nil, err
	}

	return regex, variables, nil
}

// substituteVariables replaces {var} placeholders in canonical with captured values.
func substituteVariables(canonical string, captures map[string]string) string {
	result := canonical

	for varName, value := range captures {
		// Replace both {var} and {var*} forms
		result = strings.ReplaceAll(result, "{"+varName+"}", value)
		result = strings.ReplaceAll(result, "{"+varName+"*}", value)
	}

	return result
}

// NewResolver creates a resolver from config with validation.
//
// Validates:
//   - Patterns with empty pattern or canonical are skipped with warning
//   - Patterns with invalid regex are skipped with warning
//
// Returns a resolver containing only valid aliases and patterns.
// If config is nil or empty, returns a no-op resolver (passthrough).
func NewResolver(cfg *Config) *Resolver {
	resolver := &Resolver{
		aliases:  make(map[string]string),
		patterns: []compiledPattern{},
	}

	if cfg == nil {
		return resolver
	}

	for alias, canonical := range cfg.TopicAliases {
		alias = strings.TrimSpace(alias)
		canonical = strings.TrimSpace(canonical)

		if alias == "" || canonical == "" {
			slog.Warn("Skipping topic alias with empty alias or canonical name")

			continue
		}

		resolver.aliases[alias] = canonical
	}

	for _, tp := range cfg.TopicPatterns {
		pattern := strings.TrimSpace(tp.Pattern)
		canonical := strings.TrimSpace(tp.Canonical)

		// Skip empty patterns
		if pattern == "" {
			slog.Warn("Skipping topic pattern with empty pattern string")

			continue
		}

		// Skip empty canonical
		if canonical == "" {
			slog.Warn("Skipping topic pattern with empty canonical",
				slog.String("pattern", pattern))

			continue
		}

		// Compile the pattern
		regex, variables, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("Skipping topic pattern with invalid regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))

			continue
		}

		resolver.patterns = append(resolver.patterns, compiledPattern{
			regex:     regex,
			canonical: canonical,
			variables: variables,
		})

		slog.Debug("Compiled topic pattern",
			slog.String("pattern", pattern),
			slog.String("canonical", canonical),
			slog.Int("variables", len(variables)))
	}

	return resolver
}

// RuleCount returns the number of configured aliases plus compiled patterns.
func (r *Resolver) RuleCount() int {
	if r == nil {
		return 0
	}

	return len(r.aliases) + len(r.patterns)
}

// Resolve maps a published topic name to its canonical form.
// Returns the topic unchanged when no alias or pattern matches.
func (r *Resolver) Resolve(topic string) string {
	if r == nil || topic == "" {
		return topic
	}

	if canonical, ok := r.aliases[topic]; ok {
		return canonical
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(topic)
		if match == nil {
			continue
		}

		// Extract captured values
		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" && i < len(match) {
				captures[name] = match[i]
			}
		}

		// Substitute variables in canonical template
		return substituteVariables(cp.canonical, captures)
	}

	// Nothing matched - topic is already canonical
	return topic
}
