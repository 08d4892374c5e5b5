package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_MatchesStableTemplateShape(t *testing.T) {
	prompt := BuildPrompt(PromptInput{
		RelPath:       "internal/auth/session.go",
		Language:      "go",
		Category:      "source",
		RoleTags:      []string{"handler"},
		OtherTags:     []string{"handler", "entrypoint"},
		DefinesSymbol: []string{"ValidateSession"},
		ChunkText:     "func ValidateSession(s Session) error { return nil }",
	})

	assert.True(t, strings.HasPrefix(prompt, "[CONTEXT]\n"))
	assert.Contains(t, prompt, "File: internal/auth/session.go")
	assert.Contains(t, prompt, "Language: go")
	assert.Contains(t, prompt, "Role: handler")
	assert.Contains(t, prompt, "Defines: ValidateSession")
	assert.Contains(t, prompt, "\n\n[CODE]\nfunc ValidateSession")
}

func TestPromptHash_IsStableAndSensitiveToContent(t *testing.T) {
	a := BuildPrompt(PromptInput{RelPath: "a.go", ChunkText: "x"})
	b := BuildPrompt(PromptInput{RelPath: "a.go", ChunkText: "y"})

	assert.Equal(t, PromptHash(a), PromptHash(a))
	assert.NotEqual(t, PromptHash(a), PromptHash(b))
}
