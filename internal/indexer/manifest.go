package indexer

import (
	"path"
	"sort"
	"strings"

	"github.com/cpgraph/engine/internal/model"
)

// buildManifest assembles the nested directory tree for a snapshot from its
// surviving file paths, directories first then files, alphabetically within
// each group, matching list_directory's ordering contract.
func buildManifest(paths []string) model.Manifest {
	root := &manifestNode{name: "", dir: true, children: map[string]*manifestNode{}}
	for _, p := range paths {
		parts := strings.Split(path.Clean(filepathToSlash(p)), "/")
		node := root
		for i, part := range parts {
			if part == "" || part == "." {
				continue
			}
			isLeaf := i == len(parts)-1
			child, ok := node.children[part]
			if !ok {
				child = &manifestNode{name: part, dir: !isLeaf, children: map[string]*manifestNode{}}
				node.children[part] = child
			}
			if !isLeaf {
				child.dir = true
			}
			node = child
		}
	}
	return root.toManifest()
}

func filepathToSlash(p string) string { return strings.ReplaceAll(p, "\\", "/") }

type manifestNode struct {
	name     string
	dir      bool
	children map[string]*manifestNode
}

func (n *manifestNode) toManifest() model.Manifest {
	entryType := model.ManifestFile
	if n.dir {
		entryType = model.ManifestDir
	}
	m := model.Manifest{Name: n.name, Type: entryType}
	if !n.dir {
		return m
	}

	var dirs, files []*manifestNode
	for _, c := range n.children {
		if c.dir {
			dirs = append(dirs, c)
		} else {
			files = append(files, c)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].name < dirs[j].name })
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	for _, c := range dirs {
		m.Children = append(m.Children, c.toManifest())
	}
	for _, c := range files {
		m.Children = append(m.Children, c.toManifest())
	}
	return m
}
