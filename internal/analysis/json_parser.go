package analysis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions for performance.
// Compiling regexes on every parse is ~15x slower than using pre-compiled patterns.
var (
	// Code fence patterns. Newlines are optional to handle replies where the
	// model omits them.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	// JSON cleanup patterns
	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// JSON extraction patterns (greedy to capture nested structures).
	// The first-character check in extractJSON prevents over-matching.
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ParseResult represents the result of a JSON parse operation.
// It uses a result-style pattern to avoid panics and provide detailed error info.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// ParseOptions configures JSON parsing behavior.
type ParseOptions struct {
	Context      string // Context for error messages
	MaxInputSize int    // Maximum input size in bytes (0 = default 10MB)
}

const defaultMaxInputSize = 10 * 1024 * 1024

// Parse attempts to parse JSON with multiple fallback strategies.
// It handles common model response formatting issues like code fences,
// trailing commas, and leading prose around the payload.
//
// Strategy sequence:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Fix common JSON issues and retry
//  4. Extract JSON from mixed content and retry
func Parse[T any](text string, opts ...ParseOptions) ParseResult[T] {
	var options ParseOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	if options.MaxInputSize == 0 {
		options.MaxInputSize = defaultMaxInputSize
	}

	// Check size limit to prevent memory issues
	if len(text) > options.MaxInputSize {
		return createError[T](
			fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), options.MaxInputSize),
			truncate(text, 1000),
			options.Context,
		)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return createError[T]("empty input", text, options.Context)
	}

	// Strategy 1: Direct JSON parse
	result, err := tryDirectParse[T](trimmed)
	if err == nil {
		return ParseResult[T]{Success: true, Data: result, OriginalText: text}
	}

	slog.Debug("Direct JSON parse failed, trying cleanup strategies",
		"error", err.Error(),
		"textPreview", truncate(text, 100),
		"context", options.Context)

	// Strategy 2: Remove code fences and try again
	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		if result, err := tryDirectParse[T](withoutFences); err == nil {
			return ParseResult[T]{Success: true, Data: result, OriginalText: text}
		}
	}

	// Strategy 3: Fix common JSON issues
	cleaned := cleanupJSON(withoutFences)
	if result, err := tryDirectParse[T](cleaned); err == nil {
		return ParseResult[T]{Success: true, Data: result, OriginalText: text}
	}

	// Strategy 4: Extract JSON from mixed content.
	// Extract from the cleaned version, not the original (which may still
	// carry fences).
	extracted := extractJSON(cleaned)
	if extracted != "" {
		if result, err := tryDirectParse[T](extracted); err == nil {
			return ParseResult[T]{Success: true, Data: result, OriginalText: text}
		}
	}

	return createError[T]("all JSON parsing strategies failed", text, options.Context)
}

// ParseOrDefault parses JSON and returns a fallback value on error.
func ParseOrDefault[T any](text string, fallback T, opts ...ParseOptions) T {
	result := Parse[T](text, opts...)
	if result.Success {
		return result.Data
	}
	slog.Debug("JSON parse failed, using fallback",
		"error", result.Error,
		"textPreview", truncate(text, 100))
	return fallback
}

// tryDirectParse attempts a direct JSON parse without any cleanup.
func tryDirectParse[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

// removeCodeFences strips markdown code fences from text.
// Handles both ```json and ``` formats, as well as single backticks.
func removeCodeFences(text string) string {
	// First try: fences at start and end of string
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")

	// If that didn't match, try finding fences anywhere in the text
	if cleaned == text {
		cleaned = codeFenceAnyRegex.ReplaceAllString(text, "$1")
	}

	// Remove single backticks if they wrap the entire content
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimPrefix(cleaned, "`")
		cleaned = strings.TrimSuffix(cleaned, "`")
	}

	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes common JSON formatting issues.
// - Removes trailing commas before closing braces/brackets
// - Fixes unquoted object keys (basic cases, JavaScript identifiers only)
// - Removes // and /* */ comments
//
// Note: Does NOT convert single quotes to double quotes, as this would break
// valid JSON containing apostrophes (e.g., {"message": "I'm valid"}).
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON tries to extract JSON objects or arrays from mixed content.
// Returns empty string if no JSON-like content is found.
//
// Strategy: Check the first JSON-like character to determine type, preventing
// incorrect matches like extracting {"id": 1} from [{"id": 1}, {"id": 2}].
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)

	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '[':
			if match := arrayRegex.FindString(text); match != "" {
				return match
			}
		case '{':
			if match := objectRegex.FindString(text); match != "" {
				return match
			}
		}
	}

	// Fallback: search for JSON anywhere in mixed content.
	// Objects first (more common in model replies).
	if match := objectRegex.FindString(text); match != "" {
		return match
	}
	if match := arrayRegex.FindString(text); match != "" {
		return match
	}

	return ""
}

// createError creates a failed ParseResult with error details.
func createError[T any](message, text, context string) ParseResult[T] {
	var zero T
	errorMsg := message
	if context != "" {
		errorMsg = context + ": " + message
	}
	return ParseResult[T]{
		Success:      false,
		Data:         zero,
		Error:        errorMsg,
		OriginalText: text,
	}
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
