package topic

import (
	"sort"
	"sync"
)

// Trie is a thread-safe Matcher backed by a segment trie. Lookup cost is
// proportional to the number of topic segments plus wildcard branches.
type Trie[T any] struct {
	mu   sync.RWMutex
	root *trieNode[T]
	seq  uint64
	size int
}

type trieNode[T any] struct {
	children map[string]*trieNode[T]
	entries  []*Entry[T]
}

func newTrieNode[T any]() *trieNode[T] {
	return &trieNode[T]{children: make(map[string]*trieNode[T])}
}

func (n *trieNode[T]) isEmpty() bool {
	return len(n.children) == 0 && len(n.entries) == 0
}

// NewTrie creates an empty trie.
func NewTrie[T any]() *Trie[T] {
	return &Trie[T]{root: newTrieNode[T]()}
}

// Register binds value to pattern.
func (t *Trie[T]) Register(pattern Topic, value T, once bool) (*Entry[T], error) {
	if !pattern.IsValid() {
		return nil, ErrInvalidPattern
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, seg := range pattern.Segments() {
		child := node.children[seg]
		if child == nil {
			child = newTrieNode[T]()
			node.children[seg] = child
		}
		node = child
	}

	t.seq++
	e := &Entry[T]{Seq: t.seq, Pattern: pattern, Value: value, Once: once}
	node.entries = append(node.entries, e)
	t.size++
	return e, nil
}

// Unregister removes e from the trie.
func (t *Trie[T]) Unregister(e *Entry[T]) bool {
	if e == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.removeLocked(e.Pattern, func(x *Entry[T]) bool { return x == e })
}

// RemoveFunc removes the earliest entry on pattern accepted by match.
func (t *Trie[T]) RemoveFunc(pattern Topic, match func(T) bool) bool {
	if match == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.removeLocked(pattern, func(x *Entry[T]) bool { return match(x.Value) })
}

type pathEntry[T any] struct {
	node *trieNode[T]
	key  string
}

func (t *Trie[T]) removeLocked(pattern Topic, match func(*Entry[T]) bool) bool {
	segments := pattern.Segments()
	path := make([]pathEntry[T], 0, len(segments)+1)
	path = append(path, pathEntry[T]{node: t.root})

	node := t.root
	for _, seg := range segments {
		child := node.children[seg]
		if child == nil {
			return false
		}
		path = append(path, pathEntry[T]{node: child, key: seg})
		node = child
	}

	found := false
	for i, e := range node.entries {
		if match(e) {
			node.entries = append(node.entries[:i], node.entries[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	t.size--

	// prune empty nodes back towards the root
	for i := len(path) - 1; i > 0; i-- {
		if !path[i].node.isEmpty() {
			break
		}
		delete(path[i-1].node.children, path[i].key)
	}
	return true
}

type visitKey[T any] struct {
	node  *trieNode[T]
	depth int
}

type matchState[T any] struct {
	seen    map[*Entry[T]]struct{}
	matches []*Entry[T]
	visited map[visitKey[T]]struct{}
}

// Resolve returns every entry whose pattern matches topic, first registered
// first.
func (t *Trie[T]) Resolve(topic Topic) []*Entry[T] {
	if topic == "" {
		return nil
	}

	t.mu.RLock()
	state := &matchState[T]{
		seen:    make(map[*Entry[T]]struct{}),
		visited: make(map[visitKey[T]]struct{}),
	}
	t.match(t.root, topic.Segments(), 0, state)
	t.mu.RUnlock()

	sort.Slice(state.matches, func(i, j int) bool {
		return state.matches[i].Seq < state.matches[j].Seq
	})
	return state.matches
}

func (t *Trie[T]) match(node *trieNode[T], segments []string, depth int, state *matchState[T]) {
	if node == nil {
		return
	}
	key := visitKey[T]{node: node, depth: depth}
	if _, ok := state.visited[key]; ok {
		return
	}
	state.visited[key] = struct{}{}

	if depth == len(segments) {
		for _, e := range node.entries {
			if _, ok := state.seen[e]; !ok {
				state.seen[e] = struct{}{}
				state.matches = append(state.matches, e)
			}
		}
		// trailing ** may match zero segments
		if child := node.children[WildcardMulti]; child != nil {
			t.match(child, segments, depth, state)
		}
		return
	}

	if child := node.children[segments[depth]]; child != nil {
		t.match(child, segments, depth+1, state)
	}
	if child := node.children[WildcardSingle]; child != nil {
		t.match(child, segments, depth+1, state)
	}
	if child := node.children[WildcardMulti]; child != nil {
		for i := depth; i <= len(segments); i++ {
			t.match(child, segments, i, state)
		}
	}
}

// Len returns the number of registered entries.
func (t *Trie[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

var _ Matcher[int] = (*Trie[int])(nil)
