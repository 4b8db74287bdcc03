package store

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/scribe/internal/types"
)

// Record files are a YAML metadata header between "---" delimiters followed
// by the free-form body:
//
//	---
//	id: rec-v1-...
//	created: 2026-01-02T15:04:05Z
//	...
//	---
//	body text
const headerDelim = "---\n"

// Encode serializes a record into its on-disk representation.
func Encode(r *types.Record) ([]byte, error) {
	header, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(headerDelim)
	buf.Write(header)
	buf.WriteString(headerDelim)
	buf.WriteString(r.Body)
	return buf.Bytes(), nil
}

// Decode parses a record file. The body is everything after the closing
// header delimiter, untouched.
func Decode(data []byte) (*types.Record, error) {
	text := string(data)
	if !strings.HasPrefix(text, headerDelim) {
		return nil, &types.ValidationError{Field: "header", Msg: "missing opening delimiter"}
	}
	rest := text[len(headerDelim):]
	end := strings.Index(rest, "\n"+headerDelim)
	if end < 0 {
		return nil, &types.ValidationError{Field: "header", Msg: "missing closing delimiter"}
	}

	var r types.Record
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &r); err != nil {
		return nil, &types.ValidationError{Field: "header", Msg: err.Error()}
	}
	r.Body = rest[end+1+len(headerDelim):]
	return &r, nil
}
