// Package redaction masks secret-looking Context values before they reach
// log output.
package redaction

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/go-ports/ctxsync/internal/value"
)

// sensitivePatterns are compiled once at package init.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sk_live_[a-zA-Z0-9]+`),             // Stripe live keys
	regexp.MustCompile(`(?i)sk_test_[a-zA-Z0-9]+`),             // Stripe test keys
	regexp.MustCompile(`ghp_[a-zA-Z0-9]+`),                     // GitHub PATs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                     // AWS access key IDs
	regexp.MustCompile(`xoxb-[a-zA-Z0-9-]+`),                   // Slack bot tokens
	regexp.MustCompile(`-----BEGIN (?:RSA )?PRIVATE KEY-----`), // Private keys
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+`), // JWT tokens
	regexp.MustCompile(`(?i)password\s*[:=]\s*["']?.+`),        // password = ...
	regexp.MustCompile(`(?i)secret\s*[:=]\s*["']?.+`),          // secret = ...
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*["']?.+`),     // api_key = ...
}

// sensitiveKeyRe matches Context key segments whose values are never logged.
var sensitiveKeyRe = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|credential|private[_-]?key)`)

// redactedTagRe matches explicit <redacted>…</redacted> pairs (including multiline).
var redactedTagRe = regexp.MustCompile(`(?s)<redacted>.*?</redacted>`)

// Replacement is substituted for every masked span.
const Replacement = "[REDACTED]"

// Redact masks text in three layers:
//
//  1. Explicit <redacted>…</redacted> tags, replaced until no pairs remain;
//     orphaned opening/closing tags are then stripped.
//  2. Built-in sensitive patterns (API keys, tokens, passwords).
//  3. Caller-supplied extraPatterns (from the redaction.patterns config key).
func Redact(text string, extraPatterns []*regexp.Regexp) string {
	for {
		next := redactedTagRe.ReplaceAllString(text, Replacement)
		if next == text {
			break
		}
		text = next
	}
	text = strings.ReplaceAll(text, "<redacted>", "")
	text = strings.ReplaceAll(text, "</redacted>", "")

	for _, re := range sensitivePatterns {
		text = re.ReplaceAllString(text, Replacement)
	}
	for _, re := range extraPatterns {
		text = re.ReplaceAllString(text, Replacement)
	}
	return text
}

// SensitiveKey reports whether a Context key names a secret, e.g.
// "db.password" or "github_token".
func SensitiveKey(key string) bool {
	return sensitiveKeyRe.MatchString(key)
}

// CompilePatterns compiles each non-blank pattern.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction.CompilePatterns: %w", err)
		}
		out = append(out, re)
	}
	return out, nil
}

// LoadIgnoreFile reads a .ctxsyncignore file and compiles each non-blank,
// non-comment line as a regular expression.
// Returns nil (no error) if the file does not exist.
func LoadIgnoreFile(path string) ([]*regexp.Regexp, error) {
	f, err := os.Open(path) // #nosec G304 -- path is inside the user's ctxsync home
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return CompilePatterns(lines)
}

// ---------------------------------------------------------------------------
// Redactor
// ---------------------------------------------------------------------------

// Redactor applies the built-in and configured patterns to log values.
// A nil *Redactor uses the built-in patterns only.
type Redactor struct {
	extra []*regexp.Regexp
}

// New returns a Redactor with extra patterns compiled from patterns.
func New(patterns []string) (*Redactor, error) {
	extra, err := CompilePatterns(patterns)
	if err != nil {
		return nil, err
	}
	return &Redactor{extra: extra}, nil
}

// Extend returns a Redactor applying r's patterns plus extra.
func (r *Redactor) Extend(extra []*regexp.Regexp) *Redactor {
	out := make([]*regexp.Regexp, 0, len(r.patterns())+len(extra))
	out = append(out, r.patterns()...)
	return &Redactor{extra: append(out, extra...)}
}

func (r *Redactor) patterns() []*regexp.Regexp {
	if r == nil {
		return nil
	}
	return r.extra
}

// Text masks secrets in s.
func (r *Redactor) Text(s string) string {
	return Redact(s, r.patterns())
}

// Value renders v for a log line. Values stored under sensitive keys are
// replaced wholesale; everything else is pattern-masked.
func (r *Redactor) Value(key string, v value.Value) string {
	if SensitiveKey(key) && !v.IsNull() {
		return Replacement
	}
	return r.Text(v.Text())
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook masking every string
// attribute.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, r.Text(a.Value.String()))
	}
	return a
}
