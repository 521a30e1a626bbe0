package registry

import (
	"path"
	"sort"
	"strings"
)

// Name returns the last path segment of the node key.
func (n *Node) Name() string {
	return path.Base(strings.TrimRight(n.Key, "/"))
}

// BuildTree groups flat "<root>/<dir>/<leaf>" keys into a tree rooted at
// root, in the shape returned by a recursive etcd v2 read. Keys nested
// deeper are attached to their first-level directory; keys directly under
// root are ignored.
func BuildTree(root string, kvs map[string]string) *Node {
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = ""
	}

	dirs := make(map[string]*Node)
	for key, value := range kvs {
		rest, ok := strings.CutPrefix(key, root+"/")
		if !ok {
			continue
		}
		dirName, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}

		dirKey := root + "/" + dirName
		dir, exists := dirs[dirKey]
		if !exists {
			dir = &Node{Key: dirKey, Dir: true}
			dirs[dirKey] = dir
		}
		dir.Nodes = append(dir.Nodes, &Node{Key: key, Value: value})
	}

	top := &Node{Key: root, Dir: true}
	for _, dir := range dirs {
		sort.Slice(dir.Nodes, func(i, j int) bool { return dir.Nodes[i].Key < dir.Nodes[j].Key })
		top.Nodes = append(top.Nodes, dir)
	}
	sort.Slice(top.Nodes, func(i, j int) bool { return top.Nodes[i].Key < top.Nodes[j].Key })

	return top
}
