// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema validates payloads against their Go struct schema, describes
// payload types as JSON Schema for structured LLM output, and decodes raw
// model output into validated values.
//
// Struct fields are validated with go-playground/validator tags:
//
//	type Response struct {
//	    Answer     string  `json:"answer" validate:"required"`
//	    Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
//	}
package schema

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/jllopis/waspnest/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks v against the validation tags of its struct type.
// Non-struct values and nil pointers carry no schema and always pass.
func Validate(v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	name := TypeName(reflect.TypeOf(v))
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
		}
		return errors.Validation(fmt.Sprintf("%s does not conform to its schema", name), err).
			WithContext("type", name).
			WithContext("fields", fields)
	}
	return errors.Validation(fmt.Sprintf("%s could not be validated", name), err).
		WithContext("type", name)
}

// TypeName renders t the way error messages and hook payloads report it.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// Describe returns the JSON Schema of t with all definitions inlined.
func Describe(t reflect.Type) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.ReflectFromType(t)
}

// DescribeJSON returns the indented JSON Schema document for t.
func DescribeJSON(t reflect.Type) (string, error) {
	data, err := json.MarshalIndent(Describe(t), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema for %s: %w", TypeName(t), err)
	}
	return string(data), nil
}

// Instruction renders the system prompt suffix asking the model to answer
// with a JSON document conforming to t.
func Instruction(t reflect.Type) (string, error) {
	doc, err := DescribeJSON(t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"You must respond with valid JSON matching this schema:\n```json\n%s\n```\nRespond ONLY with the JSON object, no other text.",
		doc,
	), nil
}

// Decode parses raw model output into a T and validates it.
// Surrounding prose and markdown code fences are tolerated.
func Decode[T any](raw string) (T, error) {
	var out T
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Interface {
		return out, errors.Validation(fmt.Sprintf("cannot decode into interface type %s", TypeName(t)), nil).
			WithContext("type", TypeName(t))
	}

	doc := ExtractJSON(raw)
	if doc == "" {
		return out, errors.Validation(fmt.Sprintf("no JSON document found for %s", TypeName(t)), nil).
			WithContext("type", TypeName(t)).
			WithContext("raw", truncate(raw, 200))
	}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return out, errors.Validation(fmt.Sprintf("failed to parse %s", TypeName(t)), err).
			WithContext("type", TypeName(t)).
			WithContext("raw", truncate(doc, 200))
	}
	if err := Validate(out); err != nil {
		return out, err
	}
	return out, nil
}

// ExtractJSON returns the outermost JSON object or array in s, or "".
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return s
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return ""
	}
	return candidate
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
