// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hooks

import (
	"fmt"
	"strings"
)

// FieldSpec declares one property's expected shape.
type FieldSpec struct {
	// Type names the JSON type: string, number, boolean, object, array.
	// Empty skips the type check.
	Type string

	// Enum restricts string values to this set when non-empty.
	Enum []string
}

// ObjectSchema declares the shape every element of a sequence artifact
// must satisfy.
type ObjectSchema struct {
	// Required lists properties every element must supply.
	Required []string

	// Properties declares per-field types and enums. Fields present in
	// the artifact but absent here pass unchecked.
	Properties map[string]FieldSpec
}

// NewSchemaHook builds a schema validation hook over a sequence of
// objects.
//
// The artifact must be a slice of objects; every element must supply
// each required property with its declared type and enum. Failures
// list each missing or invalid field so the model can repair them all
// in one iteration.
func NewSchemaHook(schema ObjectSchema) *Hook {
	return NewHook(
		"schema_validation",
		TypeSchema,
		"JSON schema validation",
		PrioritySchema,
		func(artifact any) (bool, string) {
			return validateSchema(schema, artifact)
		},
	)
}

func validateSchema(schema ObjectSchema, artifact any) (bool, string) {
	items, ok := asObjectSequence(artifact)
	if !ok {
		return false, fmt.Sprintf("Schema error: expected a sequence of objects, got %T", artifact)
	}

	var problems []string
	for i, item := range items {
		for _, field := range schema.Required {
			value, present := item[field]
			if !present {
				problems = append(problems, fmt.Sprintf("step %d: missing required field %q", i, field))
				continue
			}
			spec, declared := schema.Properties[field]
			if !declared {
				continue
			}
			if problem := checkField(spec, field, value); problem != "" {
				problems = append(problems, fmt.Sprintf("step %d: %s", i, problem))
			}
		}
	}

	if len(problems) > 0 {
		return false, "Schema error: " + strings.Join(problems, "; ")
	}
	return true, "Schema-valid."
}

// asObjectSequence coerces the artifact shapes a plan can arrive in.
func asObjectSequence(artifact any) ([]map[string]any, bool) {
	switch v := artifact.(type) {
	case []map[string]any:
		return v, true
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			obj, ok := elem.(map[string]any)
			if !ok {
				return nil, false
			}
			items = append(items, obj)
		}
		return items, true
	default:
		return nil, false
	}
}

// checkField validates one value against its spec. Empty string means
// the value passed.
func checkField(spec FieldSpec, field string, value any) string {
	switch spec.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("field %q must be a string, got %T", field, value)
		}
		if len(spec.Enum) > 0 && !containsString(spec.Enum, s) {
			return fmt.Sprintf("field %q must be one of %v, got %q", field, spec.Enum, s)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Sprintf("field %q must be a number, got %T", field, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("field %q must be a boolean, got %T", field, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("field %q must be an object, got %T", field, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("field %q must be an array, got %T", field, value)
		}
	}
	return ""
}

func containsString(set []string, s string) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
