// Package journey implements the workflow engine that drives multi-step
// login, signup and data-collection flows. A journey policy declares an
// ordered list of steps; each step is dispatched by type to a registered
// handler which computes outputs from journey data, user input and context.
package journey

import (
	"context"
	"crypto/md5"  //nolint:gosec // available as a configured digest, not for security decisions
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/domain"
)

// ErrCodeTransformFailed is the step failure code when a required transform
// rule cannot produce a value.
const ErrCodeTransformFailed = "transform_failed"

var templatePlaceholder = regexp.MustCompile(`\{(data|input|user):([a-zA-Z0-9_.\-]+)\}`)

// TransformHandler executes the declarative data-mapping step. Each rule is
// independent: a failing required rule aborts the step, a failing optional
// rule is logged and skipped.
type TransformHandler struct{}

// NewTransformHandler creates a TransformHandler.
func NewTransformHandler() *TransformHandler { return &TransformHandler{} }

// Type implements StepHandler.
func (h *TransformHandler) Type() string { return "transform" }

// Execute implements StepHandler.
func (h *TransformHandler) Execute(ctx context.Context, exec *ExecContext) (*StepResult, error) {
	for _, rule := range exec.Step.Rules {
		value, err := applyRule(rule, exec)
		if err != nil {
			if rule.Required {
				log.Warn().Err(err).
					Str("journey_id", exec.State.JourneyID).
					Str("output_key", rule.OutputKey).
					Str("transform", rule.Type).
					Msg("required transform rule failed")
				return &StepResult{Status: StepFailed, ErrorCode: ErrCodeTransformFailed}, nil
			}
			log.Trace().Err(err).
				Str("journey_id", exec.State.JourneyID).
				Str("output_key", rule.OutputKey).
				Str("transform", rule.Type).
				Msg("optional transform rule skipped")
			continue
		}
		exec.State.JourneyData[rule.OutputKey] = value
	}

	return &StepResult{Status: StepCompleted}, nil
}

// applyRule resolves the rule's input and applies its transform.
func applyRule(rule domain.TransformRule, exec *ExecContext) (string, error) {
	input, found := resolveInput(rule, exec)

	// Only the constant and combine transforms work without an input value.
	kind := strings.ToLower(rule.Type)
	if !found && kind != "constant" && kind != "combine" {
		return "", fmt.Errorf("input %q not found in %s", rule.InputKey, rule.Source)
	}

	return applyTransform(kind, input, rule, exec)
}

// resolveInput reads the rule's input value from its configured source.
func resolveInput(rule domain.TransformRule, exec *ExecContext) (string, bool) {
	switch strings.ToLower(rule.Source) {
	case "constant":
		return rule.Value, true
	case "input":
		v, ok := exec.Input[rule.InputKey]
		return v, ok
	case "config":
		v, ok := exec.Config[rule.InputKey]
		return v, ok
	case "data":
		v, ok := exec.State.JourneyData[rule.InputKey]
		if !ok {
			return "", false
		}
		return toString(v), true
	default:
		return "", false
	}
}

// applyTransform dispatches on the transform type. The dispatch is
// case-insensitive and an unrecognized type passes the input through
// unchanged: unknown config must degrade, not fail, so policies written for
// newer servers keep working.
//
//nolint:cyclop,funlen
func applyTransform(kind, input string, rule domain.TransformRule, exec *ExecContext) (string, error) {
	switch kind {
	case "copy":
		return input, nil

	case "constant":
		return rule.Value, nil

	case "uppercase":
		return strings.ToUpper(input), nil

	case "lowercase":
		return strings.ToLower(input), nil

	case "trim":
		return strings.TrimSpace(input), nil

	case "hash":
		return hashTransform(input, rule.Algorithm)

	case "prefix":
		return rule.Prefix + input, nil

	case "suffix":
		return input + rule.Suffix, nil

	case "replace":
		return strings.ReplaceAll(input, rule.Match, rule.Replacement), nil

	case "regex_replace":
		if rule.Pattern == "" || input == "" {
			return input, nil
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
		return re.ReplaceAllString(input, rule.Replacement), nil

	case "regex_match":
		if rule.Pattern == "" || input == "" {
			return input, nil
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
		return re.FindString(input), nil

	case "substring":
		return substring(input, rule.StartIndex, rule.Length), nil

	case "split":
		delim := rule.Delimiter
		if delim == "" {
			delim = ","
		}
		tokens := strings.Split(input, delim)
		if rule.Index < 0 || rule.Index >= len(tokens) {
			return "", nil
		}
		return tokens[rule.Index], nil

	case "combine":
		delim := rule.Delimiter
		if delim == "" {
			delim = " "
		}
		parts := make([]string, 0, len(rule.CombineKeys))
		for _, key := range rule.CombineKeys {
			if v, ok := exec.State.JourneyData[key]; ok {
				parts = append(parts, toString(v))
			}
		}
		return strings.Join(parts, delim), nil

	case "template":
		return expandTemplate(rule.Template, exec), nil

	case "map":
		if mapped, ok := rule.Mapping[input]; ok {
			return mapped, nil
		}
		return rule.DefaultValue, nil

	case "conditional":
		for _, c := range rule.Cases {
			if caseMatches(c, input) {
				return c.ThenValue, nil
			}
		}
		return rule.DefaultValue, nil

	case "base64encode":
		return base64.StdEncoding.EncodeToString([]byte(input)), nil

	case "base64decode":
		decoded, err := base64.StdEncoding.DecodeString(input)
		if err != nil {
			return "", fmt.Errorf("invalid base64 input: %w", err)
		}
		return string(decoded), nil

	case "urlencode":
		return url.QueryEscape(input), nil

	case "urldecode":
		decoded, err := url.QueryUnescape(input)
		if err != nil {
			return "", fmt.Errorf("invalid url-encoded input: %w", err)
		}
		return decoded, nil

	default:
		// Unknown transform: passthrough.
		return input, nil
	}
}

func hashTransform(input, algorithm string) (string, error) {
	var h hash.Hash
	switch strings.ToLower(algorithm) {
	case "md5":
		h = md5.New() //nolint:gosec
	case "sha1":
		h = sha1.New() //nolint:gosec
	case "sha256", "":
		h = sha256.New()
	case "sha384":
		h = sha512.New384()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}

	h.Write([]byte(input))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// substring clamps start and length into [0, len(value)] so no start/length
// combination can fault.
func substring(value string, start, length int) string {
	runes := []rune(value)
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	end := len(runes)
	if length > 0 && start+length < end {
		end = start + length
	}
	return string(runes[start:end])
}

// expandTemplate substitutes {data:key}, {input:key} and {user:id}
// placeholders. Unresolvable placeholders expand to the empty string.
func expandTemplate(template string, exec *ExecContext) string {
	return templatePlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		parts := templatePlaceholder.FindStringSubmatch(match)
		source, key := parts[1], parts[2]
		switch source {
		case "data":
			if v, ok := exec.State.JourneyData[key]; ok {
				return toString(v)
			}
		case "input":
			if v, ok := exec.Input[key]; ok {
				return v
			}
		case "user":
			if exec.User != nil && key == "id" {
				return exec.User.ID
			}
		}
		return ""
	})
}

func caseMatches(c domain.ConditionalCase, value string) bool {
	v := strings.ToLower(value)
	operand := strings.ToLower(c.Operand)

	switch strings.ToLower(c.Operator) {
	case "equals":
		return v == operand
	case "not-equals":
		return v != operand
	case "contains":
		return strings.Contains(v, operand)
	case "starts-with":
		return strings.HasPrefix(v, operand)
	case "exists":
		return value != ""
	case "not-exists":
		return value == ""
	default:
		return false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
