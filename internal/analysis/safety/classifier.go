// Package safety detects crisis-level distress and off-topic requests in user text.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of classifying one user message.
type Verdict string

const (
	Crisis     Verdict = "crisis"
	Irrelevant Verdict = "irrelevant"
	Normal     Verdict = "normal"
)

// Pattern is a named crisis expression. Expressions are matched case-insensitively.
type Pattern struct {
	Name string
	Expr string
}

// CrisisPatterns is the ordered crisis list. The first match wins, so more specific
// phrasings come before single-word signals. Stems carry no trailing boundary so
// inflections like "hopelessness" or "depression" still match.
var CrisisPatterns = []Pattern{
	{Name: "suicide", Expr: `\bsuicid`},
	{Name: "kill-myself", Expr: `\bkill(?:ing)?\s+my\s*self\b`},
	{Name: "end-my-life", Expr: `\bend(?:ing)?\s+my\s+life\b`},
	{Name: "end-it", Expr: `\bend(?:ing)?\s+it(?:\s+all)?\b`},
	{Name: "self-harm", Expr: `\bself[\s-]*harm`},
	{Name: "hurt-myself", Expr: `\b(?:hurt|harm|cut)(?:ing)?\s+my\s*self\b`},
	{Name: "want-to-die", Expr: `\b(?:want|wanna|wish)\s+(?:to\s+)?(?:die|be\s+dead)\b`},
	{Name: "not-want-alive", Expr: `\b(?:don(?:'|’)?t|do\s+not)\s+want\s+to\s+(?:be\s+alive|live|exist)\b`},
	{Name: "better-off-dead", Expr: `\bbetter\s+off\s+(?:dead|without\s+me)\b`},
	{Name: "no-reason-to-live", Expr: `\bno\s+(?:reason|point)\s+(?:to|in)\s+liv(?:e|ing)\b`},
	{Name: "cant-go-on", Expr: `\bcan(?:not|'t|’t|t|\s+not)\s+go\s+on\b`},
	{Name: "life-meaningless", Expr: `\blife\s+is\s+meaningless\b`},
	{Name: "hopeless", Expr: `\bhopeless`},
	{Name: "depressed", Expr: `\bdepress`},
	{Name: "panic", Expr: `\bpanic`},
	{Name: "anxious", Expr: `\banxious`},
	{Name: "alone", Expr: `\balone`},
}

// IrrelevantTopics are subjects outside emotional support.
var IrrelevantTopics = []string{
	"cooking", "recipe", "recipes", "programming", "coding", "code", "python", "javascript",
	"sports", "football", "cricket", "basketball", "weather", "forecast", "stock market",
	"crypto", "bitcoin", "movie", "movies",
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// Classifier holds a compiled crisis list and topic filter. It is immutable and safe
// for concurrent use.
type Classifier struct {
	crisis []compiledPattern
	topics *regexp.Regexp
}

// NewClassifier compiles the given lists.
func NewClassifier(patterns []Pattern, topics []string) (*Classifier, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("safety: empty crisis pattern list")
	}

	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("safety: compile pattern %q: %w", p.Name, err)
		}
		compiled = append(compiled, compiledPattern{name: p.Name, re: re})
	}

	c := &Classifier{crisis: compiled}
	if len(topics) > 0 {
		quoted := make([]string, 0, len(topics))
		for _, t := range topics {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`))
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("safety: compile topics: %w", err)
		}
		c.topics = re
	}
	return c, nil
}

// NewDefaultClassifier compiles CrisisPatterns and IrrelevantTopics.
func NewDefaultClassifier() (*Classifier, error) {
	return NewClassifier(CrisisPatterns, IrrelevantTopics)
}

// Classify returns Crisis when any crisis pattern matches, Irrelevant when only an
// off-topic keyword matches, and Normal otherwise.
func (c *Classifier) Classify(text string) Verdict {
	if _, ok := c.MatchedPattern(text); ok {
		return Crisis
	}
	if c.topics != nil && c.topics.MatchString(text) {
		return Irrelevant
	}
	return Normal
}

// MatchedPattern returns the name of the first crisis pattern matching text.
func (c *Classifier) MatchedPattern(text string) (string, bool) {
	for _, p := range c.crisis {
		if p.re.MatchString(text) {
			return p.name, true
		}
	}
	return "", false
}
