// Package sanitize recovers structured JSON from free-form model output.
//
// Models wrap JSON in markdown fences, append commentary after the closing
// brace and emit raw newlines inside string literals. Sanitize strips the
// noise and repairs what it can before giving up with ErrMalformedResponse.
package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when no JSON value can be recovered.
var ErrMalformedResponse = errors.New("malformed model response")

const fence = "```"

// Sanitize extracts and parses the JSON value embedded in raw.
func Sanitize(raw string) (any, error) {
	var v any
	if err := SanitizeInto(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Object is like Sanitize but requires the recovered value to be a JSON object.
func Object(raw string) (map[string]any, error) {
	v, err := Sanitize(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %T", ErrMalformedResponse, v)
	}
	return obj, nil
}

// SanitizeInto decodes the JSON value embedded in raw into v.
func SanitizeInto(raw string, v any) error {
	msg, err := locate(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Extract returns the JSON text Sanitize would decode from raw, or "" if
// there is none.
func Extract(raw string) string {
	msg, err := locate(raw)
	if err != nil {
		return ""
	}
	return string(msg)
}

// maxCandidates bounds how many opening brackets locate tries.
const maxCandidates = 64

// candidate is a JSON value decoded from one opening bracket.
type candidate struct {
	start int
	msg   json.RawMessage
	// whole is set when nothing but whitespace follows the value up to the
	// last closing bracket.
	whole bool
}

// locate finds the JSON value in raw. Every '{' or '[' is a possible start,
// since prose before the value may itself contain brackets ("see [3]").
// The first start whose value runs to the last closing bracket wins. Failing
// that, a value at the very start of the text, then the first object, then
// any value that decoded.
func locate(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(stripFences(raw))
	end := strings.LastIndexAny(s, "}]")
	if end < 0 {
		return nil, fmt.Errorf("%w: no JSON value found", ErrMalformedResponse)
	}
	s = s[:end+1]

	var (
		found    []candidate
		firstErr error
		tried    int
	)
	for i := 0; i < len(s) && tried < maxCandidates; i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		tried++
		c, err := decodeAt(s, i)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if c.whole {
			return c.msg, nil
		}
		found = append(found, c)
	}

	if len(found) == 0 {
		if firstErr == nil {
			return nil, fmt.Errorf("%w: no JSON value found", ErrMalformedResponse)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, firstErr)
	}
	if found[0].start == 0 {
		return found[0].msg, nil
	}
	for _, c := range found {
		if c.msg[0] == '{' {
			return c.msg, nil
		}
	}
	return found[0].msg, nil
}

// decodeAt decodes the value starting at s[start], repairing control
// characters inside strings when the first attempt fails.
func decodeAt(s string, start int) (candidate, error) {
	span := s[start:]
	msg, rest, err := decodeFirst(span)
	if err != nil {
		repaired := EscapeControlChars(span)
		if repaired == span {
			return candidate{}, err
		}
		if msg, rest, err = decodeFirst(repaired); err != nil {
			return candidate{}, err
		}
	}
	return candidate{start: start, msg: msg, whole: strings.TrimSpace(rest) == ""}, nil
}

// stripFences returns the body of the first fenced code block, or raw with
// stray fence markers removed when the block is never closed.
func stripFences(raw string) string {
	open := strings.Index(raw, fence)
	if open < 0 {
		return raw
	}

	body := raw[open+len(fence):]
	// Skip the info string ("json", "JSON", ...) up to the end of the line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}

	if close := strings.Index(body, fence); close >= 0 {
		return body[:close]
	}
	return strings.ReplaceAll(body, fence, "")
}

// decodeFirst decodes the first JSON value in s and returns it along with
// the text that follows it.
func decodeFirst(s string) (json.RawMessage, string, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var msg json.RawMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, "", err
	}
	return msg, s[dec.InputOffset():], nil
}

// EscapeControlChars escapes raw control characters that appear inside JSON
// string literals. Newline, carriage return and tab become their escape
// sequences; other control characters are dropped. Text outside of string
// literals is left untouched.
func EscapeControlChars(s string) string {
	var buf bytes.Buffer
	buf.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			buf.WriteByte(c)
			continue
		}

		if escaped {
			escaped = false
			buf.WriteByte(c)
			continue
		}

		switch {
		case c == '\\':
			escaped = true
			buf.WriteByte(c)
		case c == '"':
			inString = false
			buf.WriteByte(c)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			// dropped
		default:
			buf.WriteByte(c)
		}
	}
	return buf.String()
}
