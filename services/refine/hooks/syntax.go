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
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// maxSyntaxErrors caps how many parse errors one pass collects.
const maxSyntaxErrors = 50

// syntaxLanguage is one supported language's parser binding.
type syntaxLanguage struct {
	display string
	lang    *sitter.Language
}

// syntaxLanguages maps normalized language names to parsers.
var syntaxLanguages = map[string]syntaxLanguage{
	"go":         {display: "Go", lang: golang.GetLanguage()},
	"golang":     {display: "Go", lang: golang.GetLanguage()},
	"python":     {display: "Python", lang: python.GetLanguage()},
	"py":         {display: "Python", lang: python.GetLanguage()},
	"javascript": {display: "JavaScript", lang: javascript.GetLanguage()},
	"js":         {display: "JavaScript", lang: javascript.GetLanguage()},
	"typescript": {display: "TypeScript", lang: typescript.GetLanguage()},
	"ts":         {display: "TypeScript", lang: typescript.GetLanguage()},
}

// NewSyntaxHook builds a syntax validation hook for a language.
//
// Description:
//
//	Recognized languages (Go, Python, JavaScript, TypeScript) parse the
//	candidate text with tree-sitter; any ERROR or MISSING node fails
//	the hook with a "Syntax error:" message carrying line and column.
//	Unrecognized languages soft-pass with "No validator." so prose
//	artifacts and unsupported languages do not block refinement.
//
// Inputs:
//
//	language - Language name, case-insensitive. Becomes part of the
//	           hook ID (syntax_<language>).
func NewSyntaxHook(language string) *Hook {
	normalized := strings.ToLower(language)

	fn := func(any) (bool, string) { return true, "No validator." }
	if binding, ok := syntaxLanguages[normalized]; ok {
		fn = func(artifact any) (bool, string) {
			return validateSyntax(binding, artifact)
		}
	}

	return NewHook(
		"syntax_"+normalized,
		TypeSyntax,
		fmt.Sprintf("%s syntax validation", language),
		PrioritySyntax,
		fn,
	)
}

// validateSyntax parses the artifact text and walks the tree for
// error nodes.
func validateSyntax(binding syntaxLanguage, artifact any) (bool, string) {
	text, ok := artifactText(artifact)
	if !ok {
		return false, fmt.Sprintf("Syntax error: expected source text, got %T", artifact)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(binding.lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(text))
	if err != nil {
		return false, fmt.Sprintf("Syntax error: %v", err)
	}
	defer tree.Close()

	errors := collectSyntaxErrors(tree.RootNode(), []byte(text))
	if len(errors) == 0 {
		return true, fmt.Sprintf("Valid %s syntax.", binding.display)
	}

	detail := errors[0]
	if len(errors) > 1 {
		detail = fmt.Sprintf("%s (and %d more)", detail, len(errors)-1)
	}
	return false, "Syntax error: " + detail
}

// artifactText coerces an artifact into source text.
func artifactText(artifact any) (string, bool) {
	switch v := artifact.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// collectSyntaxErrors walks the tree collecting ERROR/MISSING nodes as
// "line N, col M: message" strings.
func collectSyntaxErrors(root *sitter.Node, content []byte) []string {
	var errors []string
	var walk func(node *sitter.Node, depth int)
	walk = func(node *sitter.Node, depth int) {
		if depth > 1000 || len(errors) >= maxSyntaxErrors {
			return
		}

		if node.IsError() || node.IsMissing() {
			point := node.StartPoint()
			msg := "unexpected input"
			if node.IsMissing() {
				msg = fmt.Sprintf("missing %s", node.Type())
			} else if snippet := errorSnippet(node, content); snippet != "" {
				msg = fmt.Sprintf("unexpected %q", snippet)
			}
			errors = append(errors, fmt.Sprintf("line %d, col %d: %s", point.Row+1, point.Column, msg))
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i), depth+1)
		}
	}
	walk(root, 0)
	return errors
}

// errorSnippet extracts the offending text under an error node,
// truncated for feedback messages.
func errorSnippet(node *sitter.Node, content []byte) string {
	start, end := node.StartByte(), node.EndByte()
	if end > uint32(len(content)) {
		end = uint32(len(content))
	}
	if end <= start {
		return ""
	}
	snippet := string(content[start:end])
	if len(snippet) > 50 {
		snippet = snippet[:50] + "..."
	}
	return snippet
}
