// Package codes turns raw vision-language model replies into validated
// ICD-10 diagnosis codes. Model output is untrusted and non-deterministic:
// it may be strict JSON, JSON buried in prose or markdown fences, or not
// JSON at all. All of the leniency lives here, behind a pure function, so
// it can be tested against a corpus of recorded replies without touching
// the network.
package codes

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"medcoder/internal/domain"
)

// Parse failure reasons.
const (
	ReasonNoStructuredData = "no_structured_data"
	ReasonEmptyResult      = "empty_result"
	ReasonMalformedEntry   = "malformed_entry"
)

// ParseError describes why a model reply could not be reduced to codes.
type ParseError struct {
	Reason string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parsing model reply: %s", e.Reason)
	}
	return fmt.Sprintf("parsing model reply: %s (%s)", e.Reason, e.Detail)
}

// Result holds the validated codes plus the number of entries dropped for
// missing a usable code field. Dropped is diagnostic only.
type Result struct {
	Codes   []domain.DiagnosisCode
	Dropped int
}

var fenceRe = regexp.MustCompile("```(?:json)?")

// rawEntry mirrors one element of the expected reply array. Pointers
// distinguish missing fields from empty ones.
type rawEntry struct {
	Code        *string `json:"code"`
	Description *string `json:"description"`
}

// Parse extracts a sequence of diagnosis codes from raw model output.
// It attempts, in order: a direct decode of the whole reply, a decode after
// stripping markdown fences, and a decode of the outermost bracketed
// substring. The first candidate that decodes as JSON wins; validation
// failures in that candidate are not retried against later candidates, so
// the result is deterministic for a given input.
func Parse(raw string) (*Result, error) {
	for _, candidate := range candidates(raw) {
		var top json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &top); err != nil {
			continue
		}
		return validate(top)
	}
	return nil, &ParseError{Reason: ReasonNoStructuredData, Detail: "no decodable JSON in reply"}
}

// candidates returns progressively more lenient slices of the reply to try
// decoding. Order matters: strict first.
func candidates(raw string) []string {
	out := []string{strings.TrimSpace(raw)}

	stripped := strings.TrimSpace(strings.Trim(fenceRe.ReplaceAllString(raw, ""), "` \n"))
	if stripped != out[0] {
		out = append(out, stripped)
	}

	if sub := bracketed(raw, '[', ']'); sub != "" {
		out = append(out, sub)
	}
	if sub := bracketed(raw, '{', '}'); sub != "" {
		out = append(out, sub)
	}
	return out
}

// bracketed returns the substring from the first open delimiter to the
// matching last close delimiter, or "" when the reply has no such span.
func bracketed(s string, open, closing byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// validate checks that decoded JSON is a sequence of code objects. A
// top-level object is accepted when it wraps the array under a well-known
// key, which some models insist on despite the prompt.
func validate(top json.RawMessage) (*Result, error) {
	elems, err := asArray(top)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, &ParseError{Reason: ReasonEmptyResult, Detail: "model returned an empty array"}
	}

	res := &Result{}
	for i, elem := range elems {
		var entry rawEntry
		if err := json.Unmarshal(elem, &entry); err != nil {
			return nil, &ParseError{
				Reason: ReasonMalformedEntry,
				Detail: fmt.Sprintf("element %d is not an object", i),
			}
		}
		if entry.Code == nil || strings.TrimSpace(*entry.Code) == "" {
			res.Dropped++
			continue
		}
		code := domain.DiagnosisCode{Code: strings.TrimSpace(*entry.Code)}
		if entry.Description != nil {
			code.Description = *entry.Description
		}
		res.Codes = append(res.Codes, code)
	}

	if len(res.Codes) == 0 {
		return nil, &ParseError{
			Reason: ReasonEmptyResult,
			Detail: fmt.Sprintf("all %d entries lacked a code field", res.Dropped),
		}
	}
	return res, nil
}

// wrapperKeys are object keys under which models sometimes nest the array.
var wrapperKeys = []string{"codes", "results", "diagnoses", "data"}

func asArray(top json.RawMessage) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(top, &elems); err == nil {
		return elems, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(top, &obj); err == nil {
		for _, key := range wrapperKeys {
			inner, ok := obj[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(inner, &elems); err == nil {
				return elems, nil
			}
		}
		return nil, &ParseError{Reason: ReasonMalformedEntry, Detail: "top-level object does not wrap a code array"}
	}

	return nil, &ParseError{Reason: ReasonMalformedEntry, Detail: "decoded JSON is not an array of objects"}
}
