package blacklist

import (
	"log"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type node struct {
	children        map[string]*node
	blacklistedHere bool
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Index is a trie over path segments. A path is blacklisted when it, or any
// ancestor prefix of it, was inserted. Built once per configuration refresh and
// replaced wholesale; never mutated while readers hold it.
type Index struct {
	root *node
}

// New returns an empty index.
func New() *Index {
	return &Index{root: newNode()}
}

// Build constructs an index from a list of blacklist roots.
func Build(paths []string) *Index {
	idx := New()
	for _, p := range paths {
		idx.Insert(p)
	}
	return idx
}

// split breaks an absolute path into its normal components. "." and ".." are
// dropped; drive/volume prefixes are kept as a leading component on Windows.
func split(path string) []string {
	cleaned := filepath.Clean(path)
	cleaned = strings.ReplaceAll(cleaned, string(filepath.Separator), "/")
	parts := strings.Split(cleaned, "/")
	out := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Insert adds a blacklist root. Inserting "/" blacklists every path.
// Non-UTF8 components are rejected; the path is skipped entirely.
func (idx *Index) Insert(path string) {
	parts := split(path)
	if len(parts) == 0 {
		// Root path: everything below it is blacklisted.
		idx.root.blacklistedHere = true
		return
	}

	cur := idx.root
	for _, part := range parts {
		if !utf8.ValidString(part) {
			log.Printf("[blacklist] non-UTF8 component in path %q, skipping", path)
			return
		}
		next, ok := cur.children[part]
		if !ok {
			next = newNode()
			cur.children[part] = next
		}
		cur = next
	}
	cur.blacklistedHere = true
}

// Contains reports whether path or any ancestor prefix of it was inserted.
func (idx *Index) Contains(path string) bool {
	if idx == nil {
		return false
	}
	if idx.root.blacklistedHere {
		return true
	}

	cur := idx.root
	for _, part := range split(path) {
		if !utf8.ValidString(part) {
			log.Printf("[blacklist] non-UTF8 component in path %q, treating as not blacklisted", path)
			return false
		}
		next, ok := cur.children[part]
		if !ok {
			return false
		}
		if next.blacklistedHere {
			return true
		}
		cur = next
	}
	return false
}
