package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/model"
)

func TestChunk_GoFile_ProducesChunksAttachedToFileRoot(t *testing.T) {
	src := []byte("package demo\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n\nfunc World() string {\n\treturn \"world\"\n}\n")

	c := New()
	result, err := c.Chunk(context.Background(), 42, "demo.go", src)
	require.NoError(t, err)
	assert.Equal(t, model.ParsingOK, result.Status)
	require.NotEmpty(t, result.Chunks)
	require.Len(t, result.ParentOf, len(result.Chunks))

	for _, idx := range result.ParentOf {
		assert.True(t, idx == -1 || (idx >= 0 && idx < len(result.Chunks)))
	}

	var sawFunction bool
	for _, ch := range result.Chunks {
		if ch.Metadata().SymbolType == "function" {
			sawFunction = true
		}
		assert.Contains(t, result.Contents, ch.ContentHash())
	}
	assert.True(t, sawFunction, "expected at least one function-tagged chunk")
}

func TestChunk_OversizeLeafIsFlagged(t *testing.T) {
	var b strings.Builder
	// A single block comment has no named children, so once it is larger
	// than MaxChunkBytes+ChunkTolerance it can only stand alone as a leaf.
	b.WriteString("package demo\n\n/*\n")
	for i := 0; i < 200; i++ {
		b.WriteString("\tfiller\n")
	}
	b.WriteString("*/\n")

	c := New()
	result, err := c.Chunk(context.Background(), 1, "giant.go", []byte(b.String()))
	require.NoError(t, err)

	var sawOversize bool
	for _, ch := range result.Chunks {
		if ch.Metadata().Oversize {
			sawOversize = true
		}
		assert.LessOrEqual(t, int(ch.ByteRange().Len()), MaxChunkBytes+ChunkTolerance*4,
			"oversize chunks should still be bounded by a reasonable multiple of the budget")
	}
	assert.True(t, sawOversize)
}

func TestChunk_ExtensionWithoutGrammarIsSkipped(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("color: red;\n")
	}

	c := New()
	result, err := c.Chunk(context.Background(), 1, "styles.css", []byte(b.String()))
	require.NoError(t, err)
	assert.Equal(t, model.ParsingSkipped, result.Status)
	assert.Empty(t, result.Chunks)
}

func TestChunk_SkipsGeneratedFile(t *testing.T) {
	src := []byte("// Code generated by protoc-gen-go. DO NOT EDIT.\npackage demo\n")
	c := New()
	result, err := c.Chunk(context.Background(), 1, "demo.pb.go", src)
	require.NoError(t, err)
	assert.Equal(t, model.ParsingSkipped, result.Status)
	assert.Empty(t, result.Chunks)
}

func TestChunk_SkipsBinaryFile(t *testing.T) {
	src := []byte{0x00, 0x01, 0x02, 'p', 'a', 'c', 'k', 'a', 'g', 'e'}
	c := New()
	result, err := c.Chunk(context.Background(), 1, "blob.go", src)
	require.NoError(t, err)
	assert.Equal(t, model.ParsingSkipped, result.Status)
}

func TestBuildFTSDocument_SplitsCamelAndSnakeCase(t *testing.T) {
	doc := BuildFTSDocument("call doSomethingCool()", []string{"parse_user_input"})

	assert.Contains(t, doc, "something")
	assert.Contains(t, doc, "cool")
	assert.Contains(t, doc, "parse")
	assert.Contains(t, doc, "user")
	assert.Contains(t, doc, "input")
}

func TestShouldSkip_EmptyFile(t *testing.T) {
	assert.True(t, ShouldSkip("empty.go", nil))
}

func TestShouldSkip_MinifiedJS(t *testing.T) {
	assert.True(t, ShouldSkip("bundle.js", []byte(strings.Repeat("a", 3000))))
}
