package chunker

import (
	"bytes"
	"path/filepath"
	"strings"
)

// generatedMarkers are substrings that, found within the first 512 bytes of
// a file, mark it as machine-generated and unworthy of structural parsing.
var generatedMarkers = [][]byte{
	[]byte("Code generated"),
	[]byte("DO NOT EDIT"),
	[]byte("@generated"),
	[]byte("This file was automatically generated"),
}

// minifiedExtensions are extensions whose minified form is common enough
// that a long-line heuristic alone should trigger a skip.
var minifiedExtensions = map[string]bool{
	".js": true, ".css": true, ".json": true,
}

// maxLineLength beyond which a file is treated as minified.
const maxLineLength = 2000

// ShouldSkip reports whether relPath/source should bypass structural
// chunking entirely (parsing_status=skipped), falling back to a whole-file
// Content row at the storage layer.
func ShouldSkip(relPath string, source []byte) bool {
	if len(source) == 0 {
		return true
	}
	if isBinary(source) {
		return true
	}
	if isGenerated(source) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	if minifiedExtensions[ext] && isMinified(source) {
		return true
	}
	return false
}

func isBinary(source []byte) bool {
	probe := source
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

func isGenerated(source []byte) bool {
	probe := source
	if len(probe) > 512 {
		probe = probe[:512]
	}
	for _, marker := range generatedMarkers {
		if bytes.Contains(probe, marker) {
			return true
		}
	}
	return false
}

func isMinified(source []byte) bool {
	longest := 0
	current := 0
	for _, b := range source {
		if b == '\n' {
			if current > longest {
				longest = current
			}
			current = 0
			continue
		}
		current++
	}
	if current > longest {
		longest = current
	}
	return longest > maxLineLength
}
