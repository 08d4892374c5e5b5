package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PromptInput carries the facts a prompt is built from. Its textual shape
// must stay stable across releases: any change to BuildPrompt's output
// invalidates every cached vector, which is by design — the prompt hash is
// the cache key.
type PromptInput struct {
	RelPath       string
	Language      string
	Category      string
	RoleTags      []string
	OtherTags     []string
	DefinesSymbol []string
	ChunkText     string
}

// BuildPrompt renders the stable [CONTEXT]/[CODE] template an embedding is
// computed from.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("[CONTEXT]\n")
	b.WriteString("File: ")
	b.WriteString(in.RelPath)
	b.WriteString("\nLanguage: ")
	b.WriteString(in.Language)
	b.WriteString("\nCategory: ")
	b.WriteString(in.Category)
	b.WriteString("\nRole: ")
	b.WriteString(strings.Join(in.RoleTags, ", "))
	b.WriteString("\nTags: ")
	b.WriteString(strings.Join(in.OtherTags, ", "))
	b.WriteString("\nDefines: ")
	b.WriteString(strings.Join(in.DefinesSymbol, ", "))
	b.WriteString("\n\n[CODE]\n")
	b.WriteString(in.ChunkText)
	return b.String()
}

// PromptHash returns the SHA-256 hex digest of a rendered prompt, used as
// the staging table's cache key and the permanent embedding's dedup key.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
