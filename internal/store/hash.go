package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CanonicalQuestion lowercases and collapses whitespace so rephrased
// spacing or casing maps to the same answer-bank entry.
func CanonicalQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// QuestionHash is the answer-bank key for a question's canonical form.
func QuestionHash(question string) string {
	sum := sha256.Sum256([]byte(CanonicalQuestion(question)))
	return hex.EncodeToString(sum[:])
}

// TextHash fingerprints raw text, e.g. fetched posting bodies.
func TextHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
