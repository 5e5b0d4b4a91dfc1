// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package graphstore

import (
	"sort"
	"strings"
	"sync"

	"github.com/keel-dev/keel/internal/hashid"
)

// Memory is an in-memory Store, the variant tests instantiate (spec §9:
// "tests instantiate an in-memory variant"). It is also the index model
// the Badger-backed store serializes to/from disk.
//
// Thread Safety: Memory is single-writer (spec §5) — callers must not
// call UpdateNodes/UpdateEdges concurrently with each other, though
// reads may run concurrently with each other via the internal mutex.
type Memory struct {
	mu sync.RWMutex

	nextID int64

	nodesByID   map[int64]*GraphNode
	nodesByHash map[string]int64 // hash -> id, includes previous_hashes entries
	nodesByFile map[string][]int64

	edgesOut map[int64][]GraphEdge
	edgesIn  map[int64][]GraphEdge

	modules map[string]*ModuleProfile
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		nodesByID:   make(map[int64]*GraphNode),
		nodesByHash: make(map[string]int64),
		nodesByFile: make(map[string][]int64),
		edgesOut:    make(map[int64][]GraphEdge),
		edgesIn:     make(map[int64][]GraphEdge),
		modules:     make(map[string]*ModuleProfile),
	}
}

func (m *Memory) GetNode(hash string) (GraphNode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.nodesByHash[hash]
	if !ok {
		return GraphNode{}, false, nil
	}
	n, ok := m.nodesByID[id]
	if !ok {
		return GraphNode{}, false, nil
	}
	return *n, true, nil
}

func (m *Memory) GetNodeByID(id int64) (GraphNode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodesByID[id]
	if !ok {
		return GraphNode{}, false, nil
	}
	return *n, true, nil
}

func (m *Memory) GetEdges(nodeID int64, dir Direction) ([]GraphEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var src map[int64][]GraphEdge
	if dir == Outgoing {
		src = m.edgesOut
	} else {
		src = m.edgesIn
	}
	edges := src[nodeID]
	out := make([]GraphEdge, len(edges))
	copy(out, edges)
	return out, nil
}

func (m *Memory) GetNodesInFile(filePath string) ([]GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.nodesByFile[filePath]
	out := make([]GraphNode, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.nodesByID[id]; ok {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *Memory) GetAllModules() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.modules))
	for path := range m.modules {
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetModuleProfile(modulePath string) (ModuleProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.modules[modulePath]
	if !ok {
		return ModuleProfile{}, false, nil
	}
	return *p, true, nil
}

func (m *Memory) FindNodesByName(name string, kind Kind, excludeFile string) ([]GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GraphNode
	for _, n := range m.nodesByID {
		if n.Name != name || n.Kind != kind {
			continue
		}
		if excludeFile != "" && n.FilePath == excludeFile {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (m *Memory) FindModulesByPrefix(prefix string, excludeFile string) ([]ModuleProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ModuleProfile
	for path, p := range m.modules {
		if excludeFile != "" && path == excludeFile {
			continue
		}
		if p.FunctionNamePrefixes[prefix] > 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FunctionNamePrefixes[prefix] > out[j].FunctionNamePrefixes[prefix]
	})
	return out, nil
}

func (m *Memory) GetPreviousHashes(nodeID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodesByID[nodeID]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(n.PreviousHashes))
	copy(out, n.PreviousHashes)
	return out, nil
}

// UpdateNodes applies one add/modify/remove batch atomically (the
// in-memory map mutation can't partially fail, so the transaction is
// trivially all-or-nothing) and performs rename tracking (spec §4.3):
// a removed node whose hash reappears in an added node donates its
// previous_hashes chain to the new node.
func (m *Memory) UpdateNodes(batch NodeBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removedByHash := make(map[string]*GraphNode, len(batch.Removed))
	for _, ident := range batch.Removed {
		for _, id := range m.nodesByFile[ident.FilePath] {
			n, ok := m.nodesByID[id]
			if !ok || n.Name != ident.Name || n.Kind != ident.Kind || n.LineStart != ident.LineStart {
				continue
			}
			removedByHash[n.Hash] = n
			m.removeNodeLocked(id)
			break
		}
	}

	for _, add := range batch.Added {
		m.insertNodeLocked(add, removedByHash)
	}
	for _, mod := range batch.Modified {
		m.insertNodeLocked(mod, removedByHash)
	}
	return nil
}

// insertNodeLocked assigns an id (new or matching an existing node at
// the same identity for "modified"), resolves hash collisions via a
// disambiguator, and applies rename inheritance when the new node's
// hash matches a just-removed node.
func (m *Memory) insertNodeLocked(n GraphNode, removedByHash map[string]*GraphNode) {
	if existingID, collides := m.nodesByHash[n.Hash]; collides {
		if existing, ok := m.nodesByID[existingID]; ok &&
			(existing.FilePath != n.FilePath || existing.Name != n.Name || existing.LineStart != n.LineStart) {
			n.Hash = n.Hash + hashid.Disambiguator(n.FilePath)
		}
	}

	var id int64
	for _, existingID := range m.nodesByFile[n.FilePath] {
		if existing := m.nodesByID[existingID]; existing != nil &&
			existing.Name == n.Name && existing.Kind == n.Kind && existing.LineStart == n.LineStart {
			id = existingID
			break
		}
	}
	if id == 0 {
		m.nextID++
		id = m.nextID
	}
	n.ID = id

	if prior, renamed := removedByHash[n.Hash]; renamed {
		prev := append([]string{prior.Hash}, prior.PreviousHashes...)
		if len(prev) > MaxPreviousHashes {
			prev = prev[:MaxPreviousHashes]
		}
		n.PreviousHashes = prev
		m.rewriteEdgeRefsLocked(prior.ID, n.ID)
	}

	m.nodesByID[id] = &n
	m.nodesByHash[n.Hash] = id
	for _, ph := range n.PreviousHashes {
		m.nodesByHash[ph] = id
	}
	m.nodesByFile[n.FilePath] = appendUnique(m.nodesByFile[n.FilePath], id)
	m.touchModuleLocked(n)
}

func (m *Memory) removeNodeLocked(id int64) {
	n, ok := m.nodesByID[id]
	if !ok {
		return
	}
	delete(m.nodesByID, id)
	delete(m.nodesByHash, n.Hash)
	for _, ph := range n.PreviousHashes {
		delete(m.nodesByHash, ph)
	}
	m.nodesByFile[n.FilePath] = removeID(m.nodesByFile[n.FilePath], id)
}

// rewriteEdgeRefsLocked points every edge that referenced oldID at
// newID, in place (spec §4.3 "Edges referencing the removed node's id
// are rewritten").
func (m *Memory) rewriteEdgeRefsLocked(oldID, newID int64) {
	if oldID == newID {
		return
	}
	for id, edges := range m.edgesOut {
		for i := range edges {
			if edges[i].SrcID == oldID {
				edges[i].SrcID = newID
			}
			if edges[i].DstID == oldID {
				edges[i].DstID = newID
			}
		}
		m.edgesOut[id] = edges
	}
	for id, edges := range m.edgesIn {
		for i := range edges {
			if edges[i].SrcID == oldID {
				edges[i].SrcID = newID
			}
			if edges[i].DstID == oldID {
				edges[i].DstID = newID
			}
		}
		m.edgesIn[id] = edges
	}
	m.edgesOut[newID] = append(m.edgesOut[newID], m.edgesOut[oldID]...)
	m.edgesIn[newID] = append(m.edgesIn[newID], m.edgesIn[oldID]...)
	delete(m.edgesOut, oldID)
	delete(m.edgesIn, oldID)
}

// UpdateEdges drops every outgoing edge of the given files, then inserts
// the new edges (spec §4.4 step 3).
func (m *Memory) UpdateEdges(batch EdgeBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropFiles := make(map[string]bool, len(batch.DropFiles))
	for _, f := range batch.DropFiles {
		dropFiles[f] = true
	}
	if len(dropFiles) > 0 {
		for srcID, edges := range m.edgesOut {
			kept := edges[:0:0]
			for _, e := range edges {
				srcNode := m.nodesByID[srcID]
				if srcNode != nil && dropFiles[srcNode.FilePath] {
					m.removeFromIncomingLocked(e)
					continue
				}
				kept = append(kept, e)
			}
			m.edgesOut[srcID] = kept
		}
	}

	for _, e := range batch.Added {
		if e.Kind == EdgeCalls && e.SrcID == e.DstID {
			continue // invariant: no self-Calls edges
		}
		if m.hasEdgeLocked(e.SrcID, e.DstID, e.Kind) {
			continue // invariant: at most one edge of a kind between an ordered pair
		}
		m.edgesOut[e.SrcID] = append(m.edgesOut[e.SrcID], e)
		m.edgesIn[e.DstID] = append(m.edgesIn[e.DstID], e)
	}
	return nil
}

func (m *Memory) hasEdgeLocked(src, dst int64, kind EdgeKind) bool {
	for _, e := range m.edgesOut[src] {
		if e.DstID == dst && e.Kind == kind {
			return true
		}
	}
	return false
}

func (m *Memory) removeFromIncomingLocked(e GraphEdge) {
	in := m.edgesIn[e.DstID]
	for i, cand := range in {
		if cand == e {
			m.edgesIn[e.DstID] = append(in[:i], in[i+1:]...)
			return
		}
	}
}

// touchModuleLocked keeps ModuleProfile.FunctionNamePrefixes and
// FunctionCount current as nodes are added. Each file path is its own
// module; function-shaped nodes contribute their first identifier token
// as a prefix (spec §4.3 "find_modules_by_prefix").
func (m *Memory) touchModuleLocked(n GraphNode) {
	modulePath := n.FilePath
	p, ok := m.modules[modulePath]
	if !ok {
		p = &ModuleProfile{ModulePath: modulePath, FunctionNamePrefixes: make(map[string]int)}
		m.modules[modulePath] = p
	}
	if n.Kind == "function" || n.Kind == "method" {
		p.FunctionCount++
		prefix := firstToken(n.Name)
		if prefix != "" {
			p.FunctionNamePrefixes[prefix]++
		}
	}
}

// firstToken extracts the first lowercase word of an identifier,
// normalizing snake_case and camelCase the same way (spec §9 Open
// Question: "use the first lowercase word after case-normalization").
func firstToken(name string) string {
	if name == "" {
		return ""
	}
	if i := strings.IndexAny(name, "_-"); i > 0 {
		return strings.ToLower(name[:i])
	}
	runes := []rune(name)
	end := 1
	for end < len(runes) && !(runes[end] >= 'A' && runes[end] <= 'Z') {
		end++
	}
	return strings.ToLower(string(runes[:end]))
}

func (m *Memory) Close() error { return nil }

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
