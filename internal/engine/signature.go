package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/scrypster/chatkeep/pkg/types"
)

// fieldSep separates hashed fields so that shifting text between fields
// always changes the signature ("ab","c" never collides with "a","bc").
const fieldSep = "\x1f"

// ComputeSignature derives the deterministic idempotency key for a save:
// two saves with the same owner, title, and content always produce the same
// signature, and any difference in any field produces a different one.
func ComputeSignature(ownerID, title string, kind types.ChatKind, turns []types.Turn, content string) string {
	var b strings.Builder
	b.WriteString(ownerID)
	b.WriteString(fieldSep)
	b.WriteString(title)
	b.WriteString(fieldSep)
	b.WriteString(string(kind))
	for _, t := range turns {
		b.WriteString(fieldSep)
		b.WriteString(t.Prompt)
		b.WriteString(fieldSep)
		b.WriteString(t.Response)
	}
	if content != "" {
		b.WriteString(fieldSep)
		b.WriteString(content)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// combineTurns flattens a conversation into the single document handed to
// the embedding service.
func combineTurns(turns []types.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t.Prompt)
		if t.Response != "" {
			b.WriteString("\n")
			b.WriteString(t.Response)
		}
	}
	return b.String()
}
