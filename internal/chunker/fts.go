package chunker

import (
	"strings"
	"unicode"
)

// identifierWeight is how many times a chunk's extracted identifiers are
// repeated in its FTS document relative to body tokens, biasing keyword
// search toward symbol names without a stemmer collapsing them.
const identifierWeight = 4

// BuildFTSDocument tokenizes raw chunk text the way code wants: splitting
// identifiers on camelCase and snake_case boundaries in addition to
// whitespace/punctuation, lowercasing, and never stemming (stemming a
// token like "Auth" or "Impl" destroys the very substring a keyword search
// is looking for). Identifiers already extracted by the chunker are
// repeated to weight them above ordinary body text.
func BuildFTSDocument(text string, identifiers []string) string {
	var b strings.Builder
	for _, tok := range tokenize(text) {
		b.WriteString(tok)
		b.WriteByte(' ')
	}
	for _, ident := range identifiers {
		for _, tok := range tokenize(ident) {
			for i := 0; i < identifierWeight; i++ {
				b.WriteString(tok)
				b.WriteByte(' ')
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize exposes the same tokenization BuildFTSDocument uses on chunk
// text, so a search query can be split into comparable tokens.
func Tokenize(s string) []string { return tokenize(s) }

// tokenize splits s on whitespace and punctuation, then further splits
// each piece on camelCase and snake_case/kebab-case boundaries, lowercasing
// every resulting token. No stemming is applied.
func tokenize(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	var out []string
	for _, w := range words {
		out = append(out, splitCamelSnake(w)...)
	}
	return out
}

func splitCamelSnake(w string) []string {
	parts := strings.FieldsFunc(w, func(r rune) bool { return r == '_' || r == '-' })
	if len(parts) == 0 {
		return nil
	}
	var out []string
	for _, p := range parts {
		out = append(out, camelParts(p)...)
	}
	return out
}

func camelParts(p string) []string {
	runes := []rune(p)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	var cur []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
			out = append(out, strings.ToLower(string(cur)))
			cur = nil
		}
		cur = append(cur, r)
	}
	out = append(out, strings.ToLower(string(cur)))
	return out
}
