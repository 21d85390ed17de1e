package workspace

import (
	"sort"
	"strings"
)

type treeNode struct {
	name     string
	children map[string]*treeNode
}

// RenderTree draws slash-separated paths as an indented tree rooted at ".".
func RenderTree(paths []string) string {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, p := range paths {
		node := root
		for _, part := range strings.Split(p, "/") {
			if part == "" {
				continue
			}
			child, ok := node.children[part]
			if !ok {
				child = &treeNode{name: part, children: map[string]*treeNode{}}
				node.children[part] = child
			}
			node = child
		}
	}

	var sb strings.Builder
	sb.WriteString(".\n")
	writeChildren(&sb, root, "")
	return strings.TrimRight(sb.String(), "\n")
}

func writeChildren(sb *strings.Builder, node *treeNode, prefix string) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		connector, indent := "├── ", "│   "
		if i == len(names)-1 {
			connector, indent = "└── ", "    "
		}
		sb.WriteString(prefix + connector + name + "\n")
		writeChildren(sb, node.children[name], prefix+indent)
	}
}
