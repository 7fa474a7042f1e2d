// Copyright 2026 The Bastion Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/peg/bastion/internal/match"
)

// maxCustomPatternLength caps user-supplied regex patterns.
const maxCustomPatternLength = 500

// CustomConfig is the top-level custom rule file loaded from YAML.
type CustomConfig struct {
	// Version is the rule file schema version. Currently "1".
	Version string `yaml:"version"`

	// Rules is the list of custom rule definitions.
	Rules []CustomRule `yaml:"rules"`
}

// CustomRule is one user-defined pattern rule.
type CustomRule struct {
	// ID uniquely identifies the rule across all sources.
	ID string `yaml:"id"`

	// Name is the finding label. Defaults to the id.
	Name string `yaml:"name"`

	// Description explains what the rule looks for.
	Description string `yaml:"description"`

	// Target selects which tool classification the rule fires for:
	// "file_write", "command", or "any".
	Target string `yaml:"target"`

	// Priority controls evaluation order. Higher number = earlier.
	Priority int `yaml:"priority"`

	// Severity grades findings: low, medium, high, critical.
	Severity string `yaml:"severity"`

	// Action is "block" or "warn".
	Action string `yaml:"action"`

	// Patterns are regexes matched against the payload text (the command
	// for command targets, the extracted payload strings otherwise).
	Patterns []string `yaml:"patterns"`

	// PathPatterns are globs matched against the file path
	// (file_write targets only).
	PathPatterns []string `yaml:"path_patterns"`

	// Message is the finding reason. A default is derived if empty.
	Message string `yaml:"message"`

	// Recommendation is remediation guidance included in findings.
	Recommendation string `yaml:"recommendation"`

	// Enabled allows shipping a rule disabled. Default: true.
	Enabled *bool `yaml:"enabled"`
}

// FileStore loads custom rules from a YAML file on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a rule store that reads from the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path this store reads from.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads, validates, and compiles the rule file. All patterns are
// compiled exactly once per load and reused across evaluations.
func (s *FileStore) Load() ([]Rule, error) {
	absPath, err := filepath.Abs(s.path)
	if err != nil {
		return nil, fmt.Errorf("rules: resolve path %q: %w", s.path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("rules: read rule file: %w", err)
	}

	return ParseCustom(data)
}

// ParseCustom parses and compiles a custom rule document.
func ParseCustom(data []byte) ([]Rule, error) {
	var cfg CustomConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("rules: parse rule file: %w", err)
	}

	// Reject empty documents: file watchers can fire on truncated files
	// before new content is written.
	if cfg.Version == "" && len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("rules: empty rule file (may be mid-write)")
	}

	seen := make(map[string]bool)
	cache := make(map[string]*regexp.Regexp)
	out := make([]Rule, 0, len(cfg.Rules))

	for i, cr := range cfg.Rules {
		if cr.ID == "" {
			return nil, fmt.Errorf("rules: rule at index %d has no id", i)
		}
		if seen[cr.ID] {
			return nil, fmt.Errorf("rules: duplicate rule id %q", cr.ID)
		}
		seen[cr.ID] = true

		compiled, err := cr.compile(cache)
		if err != nil {
			return nil, fmt.Errorf("rules: rule %q: %w", cr.ID, err)
		}
		out = append(out, compiled)
	}

	return out, nil
}

// compile validates a custom rule and builds its Evaluate closure.
func (cr CustomRule) compile(cache map[string]*regexp.Regexp) (Rule, error) {
	target := strings.ToLower(cr.Target)
	switch target {
	case "file_write", "command", "any":
	case "":
		target = "any"
	default:
		return Rule{}, fmt.Errorf("unknown target %q", cr.Target)
	}

	var action Action
	switch strings.ToLower(cr.Action) {
	case "block":
		action = ActionBlock
	case "warn", "":
		action = ActionWarn
	default:
		return Rule{}, fmt.Errorf("unknown action %q (must be block or warn)", cr.Action)
	}

	severity := Severity(strings.ToLower(cr.Severity))
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	case "":
		severity = SeverityMedium
	default:
		return Rule{}, fmt.Errorf("unknown severity %q", cr.Severity)
	}

	if len(cr.Patterns) == 0 && len(cr.PathPatterns) == 0 {
		return Rule{}, fmt.Errorf("rule has neither patterns nor path_patterns")
	}
	if len(cr.PathPatterns) > 0 && target == "command" {
		return Rule{}, fmt.Errorf("path_patterns require a file_write or any target")
	}

	regexes := make([]*regexp.Regexp, 0, len(cr.Patterns))
	for _, pattern := range cr.Patterns {
		re, ok := cache[pattern]
		if !ok {
			if err := validateCustomPattern(pattern); err != nil {
				return Rule{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			var err error
			re, err = regexp.Compile(pattern)
			if err != nil {
				return Rule{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			cache[pattern] = re
		}
		regexes = append(regexes, re)
	}

	name := cr.Name
	if name == "" {
		name = cr.ID
	}
	message := cr.Message
	if message == "" {
		message = fmt.Sprintf("matched custom rule %s", name)
	}
	pathPatterns := append([]string(nil), cr.PathPatterns...)

	evaluate := func(in Input) *Result {
		switch target {
		case "file_write":
			if !IsFileWriteTool(in.Tool) {
				return nil
			}
		case "command":
			if !IsCommandExecTool(in.Tool) {
				return nil
			}
		}

		if len(pathPatterns) > 0 {
			path := FilePath(in.Params)
			if path == "" {
				return nil
			}
			cleaned, resolved := match.CleanPaths(path)
			if !match.Any(pathPatterns, cleaned) &&
				(resolved == cleaned || !match.Any(pathPatterns, resolved)) {
				return nil
			}
			if len(regexes) == 0 {
				return &Result{
					Action:         action,
					RuleName:       name,
					Reason:         message,
					Severity:       severity,
					MatchedPattern: match.First(pathPatterns, cleaned),
					Recommendation: cr.Recommendation,
				}
			}
		}

		text := scanText(target, in)
		if text == "" {
			return nil
		}
		for _, re := range regexes {
			if re.MatchString(text) {
				return &Result{
					Action:         action,
					RuleName:       name,
					Reason:         message,
					Severity:       severity,
					MatchedPattern: re.String(),
					Recommendation: cr.Recommendation,
				}
			}
		}
		return nil
	}

	return Rule{
		ID:          cr.ID,
		Name:        name,
		Description: cr.Description,
		Enabled:     cr.Enabled,
		Priority:    cr.Priority,
		Evaluate:    evaluate,
	}, nil
}

// scanText selects what the regexes run against per target.
func scanText(target string, in Input) string {
	if target == "command" {
		return Command(in.Params)
	}
	return JoinedText(in.Params)
}

// validateCustomPattern guards against pathological user patterns: a
// length cap and a rejection of nested quantifiers such as (a+)+ that
// blow up match time.
func validateCustomPattern(pattern string) error {
	if len(pattern) > maxCustomPatternLength {
		return fmt.Errorf("pattern too long (%d > %d characters)", len(pattern), maxCustomPatternLength)
	}
	if hasNestedQuantifiers(pattern) {
		return fmt.Errorf("nested quantifiers are not allowed")
	}
	return nil
}

func hasNestedQuantifiers(pattern string) bool {
	type groupState struct {
		hasQuantifier bool
	}

	stack := make([]groupState, 0, 8)
	inClass := false
	escaped := false
	lastClosedGroupHadQuantifier := false

	for i := 0; i < len(pattern); {
		ch := pattern[i]

		if escaped {
			escaped = false
			lastClosedGroupHadQuantifier = false
			i++
			continue
		}
		if ch == '\\' {
			escaped = true
			lastClosedGroupHadQuantifier = false
			i++
			continue
		}

		if inClass {
			if ch == ']' {
				inClass = false
			}
			lastClosedGroupHadQuantifier = false
			i++
			continue
		}
		if ch == '[' {
			inClass = true
			lastClosedGroupHadQuantifier = false
			i++
			continue
		}

		if width, ok := quantifierWidth(pattern, i); ok {
			if lastClosedGroupHadQuantifier {
				return true
			}
			if len(stack) > 0 {
				stack[len(stack)-1].hasQuantifier = true
			}
			lastClosedGroupHadQuantifier = false
			i += width
			continue
		}

		switch ch {
		case '(':
			stack = append(stack, groupState{})
			lastClosedGroupHadQuantifier = false
		case ')':
			if len(stack) == 0 {
				lastClosedGroupHadQuantifier = false
				i++
				continue
			}
			group := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if group.hasQuantifier && len(stack) > 0 {
				stack[len(stack)-1].hasQuantifier = true
			}
			lastClosedGroupHadQuantifier = group.hasQuantifier
		default:
			lastClosedGroupHadQuantifier = false
		}

		i++
	}

	return false
}

func quantifierWidth(pattern string, i int) (int, bool) {
	if i >= len(pattern) {
		return 0, false
	}

	switch pattern[i] {
	case '*', '+', '?':
		return 1, true
	case '{':
		j := i + 1
		digits := 0
		for j < len(pattern) && pattern[j] >= '0' && pattern[j] <= '9' {
			j++
			digits++
		}
		if j < len(pattern) && pattern[j] == ',' {
			j++
			for j < len(pattern) && pattern[j] >= '0' && pattern[j] <= '9' {
				j++
				digits++
			}
		}
		if digits == 0 || j >= len(pattern) || pattern[j] != '}' {
			return 0, false
		}
		return j - i + 1, true
	default:
		return 0, false
	}
}
