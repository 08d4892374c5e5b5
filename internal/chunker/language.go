package chunker

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language describes a tree-sitter grammar and which node types carry
// chunk-worthy structure for it.
type Language struct {
	name      string
	extension string
	grammar   *sitter.Language
	nodes     NodeTypes
}

func (l Language) Name() string              { return l.name }
func (l Language) Extension() string         { return l.extension }
func (l Language) Grammar() *sitter.Language { return l.grammar }
func (l Language) Nodes() NodeTypes          { return l.nodes }

// NodeTypes names the grammar node kinds that identify scopes worth
// tagging in chunk metadata.
type NodeTypes struct {
	FunctionNodes []string
	MethodNodes   []string
	ClassNodes    []string
	ImportNodes   []string
	CallNode      string
	NameField     string
}

func (n NodeTypes) classify(nodeType string) (symbolType string, tag string, ok bool) {
	for _, t := range n.FunctionNodes {
		if t == nodeType {
			return "function", "function_definition", true
		}
	}
	for _, t := range n.MethodNodes {
		if t == nodeType {
			return "method", "method_definition", true
		}
	}
	for _, t := range n.ClassNodes {
		if t == nodeType {
			return "class", "class_definition", true
		}
	}
	for _, t := range n.ImportNodes {
		if t == nodeType {
			return "import", "import_statement", true
		}
	}
	return "", "", false
}

// LanguageRegistry resolves file extensions to tree-sitter Languages.
type LanguageRegistry struct {
	byExt map[string]Language
}

// NewLanguageRegistry builds the registry covering every structurally
// parseable extension in the allow-list.
func NewLanguageRegistry() LanguageRegistry {
	langs := []Language{
		{"python", ".py", python.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_definition"},
			ClassNodes:    []string{"class_definition"},
			ImportNodes:   []string{"import_statement", "import_from_statement"},
			CallNode:      "call", NameField: "name",
		}},
		{"go", ".go", golang.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_declaration"},
			MethodNodes:   []string{"method_declaration"},
			ImportNodes:   []string{"import_declaration", "import_spec"},
			CallNode:      "call_expression", NameField: "name",
		}},
		{"java", ".java", java.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"method_declaration", "constructor_declaration"},
			ClassNodes:    []string{"class_declaration", "interface_declaration", "enum_declaration"},
			ImportNodes:   []string{"import_declaration"},
			CallNode:      "method_invocation", NameField: "name",
		}},
		{"c", ".c", c.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_definition"},
			ClassNodes:    []string{"struct_specifier", "union_specifier", "enum_specifier"},
			ImportNodes:   []string{"preproc_include"},
			CallNode:      "call_expression", NameField: "declarator",
		}},
		{"cpp", ".cpp", cpp.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_definition"},
			ClassNodes:    []string{"class_specifier", "struct_specifier"},
			ImportNodes:   []string{"preproc_include", "using_declaration"},
			CallNode:      "call_expression", NameField: "declarator",
		}},
		{"rust", ".rs", rust.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_item"},
			MethodNodes:   []string{"impl_item"},
			ClassNodes:    []string{"struct_item", "enum_item"},
			ImportNodes:   []string{"use_declaration"},
			CallNode:      "call_expression", NameField: "name",
		}},
		{"javascript", ".js", javascript.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_declaration", "arrow_function", "function_expression"},
			MethodNodes:   []string{"method_definition"},
			ClassNodes:    []string{"class_declaration"},
			ImportNodes:   []string{"import_statement"},
			CallNode:      "call_expression", NameField: "name",
		}},
		{"typescript", ".ts", typescript.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_declaration", "arrow_function", "function_expression"},
			MethodNodes:   []string{"method_definition"},
			ClassNodes:    []string{"class_declaration"},
			ImportNodes:   []string{"import_statement"},
			CallNode:      "call_expression", NameField: "name",
		}},
		{"tsx", ".tsx", tsx.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_declaration", "arrow_function", "function_expression"},
			MethodNodes:   []string{"method_definition"},
			ClassNodes:    []string{"class_declaration"},
			ImportNodes:   []string{"import_statement"},
			CallNode:      "call_expression", NameField: "name",
		}},
		{"csharp", ".cs", csharp.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"method_declaration", "local_function_statement"},
			MethodNodes:   []string{"constructor_declaration"},
			ClassNodes:    []string{"class_declaration", "struct_declaration", "interface_declaration", "enum_declaration"},
			ImportNodes:   []string{"using_directive"},
			CallNode:      "invocation_expression", NameField: "name",
		}},
		{"jsx", ".jsx", javascript.GetLanguage(), NodeTypes{
			FunctionNodes: []string{"function_declaration", "arrow_function", "function_expression"},
			MethodNodes:   []string{"method_definition"},
			ClassNodes:    []string{"class_declaration"},
			ImportNodes:   []string{"import_statement"},
			CallNode:      "call_expression", NameField: "name",
		}},
	}

	byExt := make(map[string]Language, len(langs))
	for _, l := range langs {
		byExt[l.extension] = l
	}
	return LanguageRegistry{byExt: byExt}
}

// ByExtension returns the Language registered for ext, if structurally
// parseable. An extension outside this set (css, json, yaml, md, ...) has
// no grammar at all, so Chunk reports it as parsing_status=skipped rather
// than guessing at structure.
func (r LanguageRegistry) ByExtension(ext string) (Language, bool) {
	l, ok := r.byExt[ext]
	return l, ok
}
