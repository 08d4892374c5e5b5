package retrieval

import (
	"strconv"
	"strings"
)

// RetrievedContext is one enriched, ranked search result. NodeID is a
// chunk ID, or, for a chunkless file matched by path/language, the
// negative of its file ID — chunk IDs are always positive.
type RetrievedContext struct {
	NodeID          int64
	FilePath        string
	StartLine       int
	EndLine         int
	Content         string
	Score           float64
	RetrievalMethod Strategy
	SemanticLabels  []string

	ParentContext    string
	HasParentContext bool

	OutgoingDefinitions []OutgoingDefinition

	// Navigation hints; zero means "none" (chunk IDs are never zero).
	PrevChunkID   int64
	NextChunkID   int64
	ParentChunkID int64
}

// Render produces the stable [CONTEXT]/[CODE]/[RELATIONS] Markdown payload
// an LLM consumes this result as. Mirrors the shape of the embedding
// pipeline's prompt template, extended with a relations section since a
// retrieved result (unlike an embedding input) carries graph context.
func (rc RetrievedContext) Render() string {
	var b strings.Builder
	b.WriteString("[CONTEXT]\n")
	b.WriteString("File: ")
	b.WriteString(rc.FilePath)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(rc.StartLine))
	b.WriteString("-")
	b.WriteString(strconv.Itoa(rc.EndLine))
	b.WriteString("\nRetrieved via: ")
	b.WriteString(string(rc.RetrievalMethod))
	b.WriteString("\nTags: ")
	b.WriteString(strings.Join(rc.SemanticLabels, ", "))
	if rc.HasParentContext {
		b.WriteString("\nParent:\n")
		b.WriteString(indent(rc.ParentContext))
	}
	b.WriteString("\n\n[CODE]\n")
	b.WriteString(rc.Content)
	b.WriteString("\n\n[RELATIONS]\n")
	if len(rc.OutgoingDefinitions) == 0 {
		b.WriteString("(none)")
	} else {
		for i, d := range rc.OutgoingDefinitions {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(string(d.Relation))
			b.WriteString(" -> ")
			if d.Name != "" {
				b.WriteString(d.Name)
			} else {
				b.WriteString("chunk#")
				b.WriteString(strconv.FormatInt(d.ChunkID, 10))
			}
		}
	}
	return b.String()
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
