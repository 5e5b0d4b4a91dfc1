// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package hashid computes the content hashes that identify GraphNodes and
// whole files (spec §3 "Hash semantics"). A hash is deterministic,
// 11 characters, base62, derived from a 64-bit xxhash digest — stable
// across runs and processes, and stable under edits that don't change a
// definition's canonical body.
package hashid

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Length is the fixed width of every hash this package produces. 62^11 is
// comfortably larger than 2^64, so no digest is truncated.
const Length = 11

// encode renders v as a fixed-width, zero-padded base62 string.
func encode(v uint64) string {
	buf := make([]byte, Length)
	for i := Length - 1; i >= 0; i-- {
		buf[i] = base62Alphabet[v%62]
		v /= 62
	}
	return string(buf)
}

// Node computes hash(node) = base62(xxh64(canonical_signature ||
// normalized_body || docstring)), truncated (by construction) to 11
// characters (spec §3).
func Node(canonicalSignature, normalizedBody, docstring string) string {
	h := xxhash.New()
	_, _ = h.WriteString(canonicalSignature)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(normalizedBody)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(docstring)
	return encode(h.Sum64())
}

// File computes the whole-file content_hash stored on a FileIndex.
func File(content []byte) string {
	return encode(xxhash.Sum64(content))
}

// Disambiguator derives a short, file-path-keyed suffix used to break a
// hash collision between two definitions with different
// (file_path, name, line_start) (spec §3 "Collision handling"). Two
// characters are enough: the collision is already astronomically rare,
// the suffix only needs to split the specific pair colliding right now.
func Disambiguator(filePath string) string {
	return encode(xxhash.Sum64String(filePath))[:2]
}

// CanonicalizeBody normalizes a definition's body text before hashing so
// that cosmetic edits don't change the hash. Normalization: convert
// CRLF/CR to LF, strip trailing whitespace from every line, and drop
// lines that are comment-only once trimmed.
//
// Policy decision (spec §9 Open Question: "whether to strip all comments
// or only line-leading comments"): this implementation strips only
// whole comment-only lines, not trailing inline comments on a code line.
// An inline comment appended to a statement is treated as part of that
// statement's body and does participate in the hash — stripping it would
// make two semantically identical statements ("return x" vs "return x //
// why") collapse to the same hash despite one carrying documentation the
// other lacks, which is a more surprising outcome than leaving inline
// comments alone. isCommentLine identifies a whole-line comment using the
// prefixes recognized across the supported languages (//, #).
func CanonicalizeBody(body string, isCommentLine func(trimmedLine string) bool) string {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmedRight := strings.TrimRight(line, " \t")
		trimmedBoth := strings.TrimSpace(trimmedRight)
		if trimmedBoth == "" {
			out = append(out, "")
			continue
		}
		if isCommentLine != nil && isCommentLine(trimmedBoth) {
			continue
		}
		out = append(out, trimmedRight)
	}
	return strings.Join(out, "\n")
}

// DefaultCommentPrefixes covers the line-comment markers of every
// LanguageResolver this module ships (go, python, typescript, rust).
var DefaultCommentPrefixes = []string{"//", "#"}

// IsCommentLine is the isCommentLine predicate CanonicalizeBody expects,
// built from DefaultCommentPrefixes.
func IsCommentLine(trimmedLine string) bool {
	for _, prefix := range DefaultCommentPrefixes {
		if strings.HasPrefix(trimmedLine, prefix) {
			return true
		}
	}
	return false
}
