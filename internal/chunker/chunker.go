// Package chunker splits source files into byte-budgeted, scope-aware
// chunks using tree-sitter, then emits the intra-file child_of forest and
// full-text tokens for each chunk. A file whose extension has no
// registered grammar is left unchunked: parsing_status=skipped, full
// text recovered from the stored whole-file Content row.
package chunker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/model"
)

// MaxChunkBytes is the soft per-chunk budget.
const MaxChunkBytes = 800

// ChunkTolerance is how far a chunk may run over MaxChunkBytes before it is
// split further; a leaf scope that still exceeds MaxChunkBytes+ChunkTolerance
// stands alone and is flagged oversize.
const ChunkTolerance = 400

// Result is one file's chunking output. Chunks and ParentOf share an
// index: ParentOf[i] is the index of Chunks[i]'s parent, or -1 if the
// chunk attaches directly to the file-level pseudo-node. Real chunk IDs
// are assigned by the storage layer on insert, so parent linkage travels
// as an index until then.
type Result struct {
	Chunks   []model.Chunk
	ParentOf []int
	Contents map[string]model.Content
	Status   model.ParsingStatus
	// Calls are call-expression sites found while walking the syntax tree,
	// a raw candidate feed for cross-file relation resolution. A language
	// without a registered grammar never produces any.
	Calls []CallSite
}

// CallSite is one call expression's byte offset and the (unresolved,
// unqualified) name of whatever it invoked.
type CallSite struct {
	Byte uint32
	Name string
}

// Chunker turns raw file bytes into a Result.
type Chunker struct {
	registry       LanguageRegistry
	maxChunkBytes  int
	chunkTolerance int
}

// New creates a Chunker with the default byte budget.
func New() *Chunker {
	return &Chunker{registry: NewLanguageRegistry(), maxChunkBytes: MaxChunkBytes, chunkTolerance: ChunkTolerance}
}

// NewWithBudget creates a Chunker with a caller-supplied byte budget,
// letting deployments with larger embedding context windows raise it.
func NewWithBudget(maxChunkBytes, chunkTolerance int) *Chunker {
	if maxChunkBytes <= 0 {
		maxChunkBytes = MaxChunkBytes
	}
	if chunkTolerance < 0 {
		chunkTolerance = ChunkTolerance
	}
	return &Chunker{registry: NewLanguageRegistry(), maxChunkBytes: maxChunkBytes, chunkTolerance: chunkTolerance}
}

// builder accumulates spans and their parent links during a recursive split.
type builder struct {
	spans  []span
	parent []int
}

func (b *builder) add(s span, parentIdx int) int {
	b.spans = append(b.spans, s)
	b.parent = append(b.parent, parentIdx)
	return len(b.spans) - 1
}

// Chunk splits one file's source into chunks. fileID identifies the owning
// File row; chunks are returned without persisted IDs, which the storage
// layer assigns on insert.
func (c *Chunker) Chunk(ctx context.Context, fileID int64, relPath string, source []byte) (Result, error) {
	if ShouldSkip(relPath, source) {
		return Result{Status: model.ParsingSkipped}, nil
	}

	ext := strings.ToLower(filepath.Ext(relPath))
	lang, ok := c.registry.ByExtension(ext)
	if !ok {
		return Result{Status: model.ParsingSkipped}, nil
	}

	b := &builder{}
	var calls []CallSite
	tree, err := c.parse(ctx, lang, source)
	if err != nil {
		return Result{Status: model.ParsingFailed}, cpgerrors.Data("parse "+relPath, err)
	}
	if tree != nil {
		c.splitNode(tree.RootNode(), source, lang.Nodes(), b, -1)
		calls = collectCallSites(tree.RootNode(), source, lang.Nodes())
	}
	if len(b.spans) == 0 {
		c.splitLines(source, b)
	}
	if len(b.spans) == 0 {
		return Result{Status: model.ParsingSkipped}, nil
	}

	result := Result{Contents: make(map[string]model.Content), Status: model.ParsingOK, Calls: calls}
	for i, sp := range b.spans {
		raw := source[sp.start:sp.end]
		hash := contentHash(raw)
		if _, ok := result.Contents[hash]; !ok {
			result.Contents[hash] = model.NewContent(hash, string(raw))
		}
		chunk := model.NewChunk(
			fileID,
			hash,
			model.ByteRange{Start: sp.start, End: sp.end},
			byteRangeToLines(source, sp.start, sp.end),
			model.ChunkMetadata{
				Tags:        sp.tags,
				SymbolType:  sp.symbolType,
				Identifiers: sp.identifiers,
				Oversize:    sp.oversize,
			},
		)
		result.Chunks = append(result.Chunks, chunk)
		result.ParentOf = append(result.ParentOf, b.parent[i])
	}
	return result, nil
}

// LanguageOf returns the display language tag for relPath: the matching
// grammar's name if one is registered, otherwise the bare extension, or
// "text" for an extensionless file.
func (c *Chunker) LanguageOf(relPath string) string {
	ext := strings.ToLower(filepath.Ext(relPath))
	if lang, ok := c.registry.ByExtension(ext); ok {
		return lang.Name()
	}
	if ext == "" {
		return "text"
	}
	return strings.TrimPrefix(ext, ".")
}

func (c *Chunker) parse(ctx context.Context, lang Language, source []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang.Grammar())
	return parser.ParseCtx(ctx, nil, source)
}

type span struct {
	start, end  uint32
	tags        []string
	symbolType  string
	identifiers []string
	oversize    bool
}

// splitNode recursively bin-packs a syntax subtree's named children into
// byte-budgeted spans, attaching each materialized span to parentIdx (-1
// meaning the file-level pseudo-node). When node itself is too large to be
// a single chunk but is a named scope (function, class, ...), a small
// header span covering its signature is materialized first and used as
// the parent for the scope's own children, giving true nesting; otherwise
// children attach directly to parentIdx.
func (c *Chunker) splitNode(node *sitter.Node, source []byte, nodes NodeTypes, b *builder, parentIdx int) {
	size := int(node.EndByte() - node.StartByte())
	if size <= c.maxChunkBytes+c.chunkTolerance {
		s := span{start: node.StartByte(), end: node.EndByte()}
		tagSpan(&s, node, source, nodes)
		b.add(s, parentIdx)
		return
	}

	children := namedChildren(node)
	if len(children) == 0 {
		b.add(span{start: node.StartByte(), end: node.EndByte(), oversize: true, tags: []string{"block"}}, parentIdx)
		return
	}

	containerParent := parentIdx
	if symbolType, tag, ok := nodes.classify(node.Type()); ok {
		headerEnd := children[0].StartByte()
		if headerEnd > node.StartByte() {
			header := span{start: node.StartByte(), end: headerEnd, symbolType: symbolType, tags: []string{tag}}
			if name := fieldText(node, nodes.NameField, source); name != "" {
				header.identifiers = append(header.identifiers, name)
			}
			containerParent = b.add(header, parentIdx)
		}
	}

	var runStart, runEnd uint32
	haveRun := false
	flush := func() {
		if haveRun {
			s := span{start: runStart, end: runEnd, tags: []string{"block"}}
			b.add(s, containerParent)
			haveRun = false
		}
	}

	for _, child := range children {
		childSize := int(child.EndByte() - child.StartByte())
		if childSize > c.maxChunkBytes+c.chunkTolerance {
			flush()
			c.splitNode(child, source, nodes, b, containerParent)
			continue
		}

		if !haveRun {
			runStart, runEnd = child.StartByte(), child.EndByte()
			haveRun = true
			continue
		}

		if int(child.EndByte()-runStart) <= c.maxChunkBytes {
			runEnd = child.EndByte()
			continue
		}
		flush()
		runStart, runEnd = child.StartByte(), child.EndByte()
		haveRun = true
	}
	flush()
}

// tagSpan annotates a span that covers node as a single chunk with the
// semantic tag of its most specific tagged descendant (including itself).
func tagSpan(s *span, node *sitter.Node, source []byte, nodes NodeTypes) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if symbolType, tag, ok := nodes.classify(n.Type()); ok {
			s.symbolType = symbolType
			s.tags = append(s.tags, tag)
			if name := fieldText(n, nodes.NameField, source); name != "" {
				s.identifiers = append(s.identifiers, name)
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if child := n.Child(i); child != nil {
				walk(child)
			}
		}
	}
	walk(node)
	if s.symbolType == "" {
		s.tags = append(s.tags, "block")
	}
}

func fieldText(n *sitter.Node, field string, source []byte) string {
	if field == "" {
		return ""
	}
	child := n.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return string(source[child.StartByte():child.EndByte()])
}

// collectCallSites walks the whole tree for nodes of the grammar's
// configured CallNode type, pairing each with a best-effort callee name
// (no scope or type resolution — see relations.Resolver for what happens
// to a name that doesn't uniquely resolve).
func collectCallSites(node *sitter.Node, source []byte, nodes NodeTypes) []CallSite {
	if nodes.CallNode == "" {
		return nil
	}
	var sites []CallSite
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == nodes.CallNode {
			if name := calleeName(n, source); name != "" {
				sites = append(sites, CallSite{Byte: n.StartByte(), Name: name})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if child := n.Child(i); child != nil {
				walk(child)
			}
		}
	}
	walk(node)
	return sites
}

// calleeName extracts the unqualified identifier a call node invokes,
// taking the last dotted segment of its first named child's text (so
// `pkg.Obj.Method(...)` yields "Method" and a bare `fn(...)` yields "fn").
func calleeName(call *sitter.Node, source []byte) string {
	if call.NamedChildCount() == 0 {
		return ""
	}
	callee := call.NamedChild(0)
	text := string(source[callee.StartByte():callee.EndByte()])
	if idx := strings.LastIndexAny(text, ".:"); idx >= 0 {
		text = text[idx+1:]
	}
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, "()[]{} \t\n") {
		return ""
	}
	return text
}

func namedChildren(node *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// splitLines is the fallback for a registered grammar whose tree produced
// no spans at all (e.g. an empty file): pack consecutive lines up to the
// byte budget, each attached directly to the file-level pseudo-node.
func (c *Chunker) splitLines(source []byte, b *builder) {
	if len(source) == 0 {
		return
	}
	var start uint32
	for i := 0; i < len(source); i++ {
		if source[i] != '\n' {
			continue
		}
		end := uint32(i + 1)
		if int(end-start) >= c.maxChunkBytes {
			b.add(c.lineSpan(start, end), -1)
			start = end
		}
	}
	if start < uint32(len(source)) {
		b.add(c.lineSpan(start, uint32(len(source))), -1)
	}
}

func (c *Chunker) lineSpan(start, end uint32) span {
	s := span{start: start, end: end, tags: []string{"block"}}
	if int(end-start) > c.maxChunkBytes+c.chunkTolerance {
		s.oversize = true
	}
	return s
}

func byteRangeToLines(source []byte, start, end uint32) model.LineRange {
	startLine := 1 + bytes.Count(source[:start], []byte{'\n'})
	endLine := 1 + bytes.Count(source[:end], []byte{'\n'})
	return model.LineRange{Start: startLine, End: endLine}
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
