// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package graphstore

// Store is the abstract interface every backend (in-memory, Badger)
// implements (spec §4.3). Hash, id and edge lookups are indexed; name
// and prefix searches scan every node or module. Writes are atomic
// batches.
type Store interface {
	// GetNode looks up a node by its current hash, falling back to a
	// match against any previous_hashes entry (spec §8 "Rename
	// preservation").
	GetNode(hash string) (GraphNode, bool, error)
	GetNodeByID(id int64) (GraphNode, bool, error)
	GetEdges(nodeID int64, dir Direction) ([]GraphEdge, error)
	GetNodesInFile(filePath string) ([]GraphNode, error)
	GetAllModules() ([]string, error)
	GetModuleProfile(modulePath string) (ModuleProfile, bool, error)

	// FindNodesByName drives W002 duplicate detection; excludeFile omits
	// matches already known to belong to the file under compile.
	FindNodesByName(name string, kind Kind, excludeFile string) ([]GraphNode, error)
	// FindModulesByPrefix drives W001 placement suggestions, sorted by
	// descending prefix multiplicity.
	FindModulesByPrefix(prefix string, excludeFile string) ([]ModuleProfile, error)
	GetPreviousHashes(nodeID int64) ([]string, error)

	// UpdateNodes and UpdateEdges apply one batch atomically each;
	// partial application on failure is forbidden.
	UpdateNodes(batch NodeBatch) error
	UpdateEdges(batch EdgeBatch) error

	Close() error
}
