// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package graphstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// CurrentSchemaVersion is bumped whenever the on-disk snapshot format
// changes incompatibly. Open fails with ErrIncompatibleSchema when the
// stored version is newer than this binary understands, and migrates
// in place when it is older (spec §4.3 "open(path)").
const CurrentSchemaVersion uint32 = 1

var (
	schemaVersionKey = []byte("schema_version")
	snapshotKey      = []byte("snapshot")
)

// Config configures a Badger-backed Store.
type Config struct {
	// Path is the on-disk directory for graph.db. Required unless InMemory.
	Path string
	// InMemory runs Badger against a memory-only value log, for tests
	// that want the real codec path without touching disk.
	InMemory bool
	// SyncWrites forces an fsync per commit; Keel enables it because a
	// torn graph.db would silently corrupt node identity.
	SyncWrites bool
}

// DefaultConfig returns the production configuration: durable, synced
// writes at the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// Badger is a Store backed by an embedded Badger KV database. The index
// (nodes, edges, module profiles) is kept as an in-memory snapshot and
// persisted as a single encoded record per transaction; Badger supplies
// the durability and atomicity, Memory supplies the query shape (spec
// §4.3: "presented as an abstract interface").
type Badger struct {
	db  *badgerdb.DB
	mem *Memory
}

// snapshot is the gob-encoded payload written under snapshotKey.
type snapshot struct {
	NextID      int64
	Nodes       []GraphNode
	NodeHashes  map[string]int64
	EdgesOut    map[int64][]GraphEdge
	EdgesIn     map[int64][]GraphEdge
	Modules     map[string]*ModuleProfile
}

// Open opens (creating if absent) the Badger database at cfg.Path,
// checks the schema version, and loads the snapshot into memory.
func Open(cfg Config) (*Badger, error) {
	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("graphstore: open badger at %s: %w", cfg.Path, err)
	}

	b := &Badger{db: db}
	if err := b.loadOrInit(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Badger) loadOrInit() error {
	var version uint32
	var found bool

	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(schemaVersionKey)
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			version = binary.BigEndian.Uint32(val)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("graphstore: read schema version: %w", err)
	}

	if !found {
		b.mem = NewMemory()
		return b.writeSchemaVersion(CurrentSchemaVersion)
	}
	if version > CurrentSchemaVersion {
		return ErrIncompatibleSchema
	}

	snap, err := b.readSnapshot()
	if err != nil {
		return err
	}
	b.mem = memoryFromSnapshot(snap)

	if version < CurrentSchemaVersion {
		// Idempotent in-place migration: the snapshot decodes with
		// gob's zero-value defaulting for fields absent in older
		// versions, so re-persisting at the current version is
		// sufficient until a field needs a real transform.
		if err := b.persist(); err != nil {
			return err
		}
		if err := b.writeSchemaVersion(CurrentSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badger) writeSchemaVersion(v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(schemaVersionKey, buf)
	})
}

func (b *Badger) readSnapshot() (snapshot, error) {
	var snap snapshot
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err == badgerdb.ErrKeyNotFound {
			snap = emptySnapshot()
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&snap)
		})
	})
	return snap, err
}

func emptySnapshot() snapshot {
	return snapshot{
		NodeHashes: make(map[string]int64),
		EdgesOut:   make(map[int64][]GraphEdge),
		EdgesIn:    make(map[int64][]GraphEdge),
		Modules:    make(map[string]*ModuleProfile),
	}
}

// persist writes the current in-memory index as the new snapshot, in a
// single Badger transaction (spec §4.3: "Batches are applied atomically;
// partial application on failure is forbidden").
func (b *Badger) persist() error {
	snap := b.mem.toSnapshot()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("graphstore: encode snapshot: %w", err)
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(snapshotKey, buf.Bytes())
	})
}

func memoryFromSnapshot(snap snapshot) *Memory {
	m := NewMemory()
	m.nextID = snap.NextID
	for _, n := range snap.Nodes {
		node := n
		m.nodesByID[node.ID] = &node
		m.nodesByFile[node.FilePath] = appendUnique(m.nodesByFile[node.FilePath], node.ID)
	}
	if snap.NodeHashes != nil {
		m.nodesByHash = snap.NodeHashes
	}
	if snap.EdgesOut != nil {
		m.edgesOut = snap.EdgesOut
	}
	if snap.EdgesIn != nil {
		m.edgesIn = snap.EdgesIn
	}
	if snap.Modules != nil {
		m.modules = snap.Modules
	}
	return m
}

func (m *Memory) toSnapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]GraphNode, 0, len(m.nodesByID))
	for _, n := range m.nodesByID {
		nodes = append(nodes, *n)
	}
	return snapshot{
		NextID:     m.nextID,
		Nodes:      nodes,
		NodeHashes: m.nodesByHash,
		EdgesOut:   m.edgesOut,
		EdgesIn:    m.edgesIn,
		Modules:    m.modules,
	}
}

func (b *Badger) GetNode(hash string) (GraphNode, bool, error) { return b.mem.GetNode(hash) }
func (b *Badger) GetNodeByID(id int64) (GraphNode, bool, error) { return b.mem.GetNodeByID(id) }
func (b *Badger) GetEdges(nodeID int64, dir Direction) ([]GraphEdge, error) {
	return b.mem.GetEdges(nodeID, dir)
}
func (b *Badger) GetNodesInFile(filePath string) ([]GraphNode, error) {
	return b.mem.GetNodesInFile(filePath)
}
func (b *Badger) GetAllModules() ([]string, error) { return b.mem.GetAllModules() }
func (b *Badger) GetModuleProfile(modulePath string) (ModuleProfile, bool, error) {
	return b.mem.GetModuleProfile(modulePath)
}
func (b *Badger) FindNodesByName(name string, kind Kind, excludeFile string) ([]GraphNode, error) {
	return b.mem.FindNodesByName(name, kind, excludeFile)
}
func (b *Badger) FindModulesByPrefix(prefix, excludeFile string) ([]ModuleProfile, error) {
	return b.mem.FindModulesByPrefix(prefix, excludeFile)
}
func (b *Badger) GetPreviousHashes(nodeID int64) ([]string, error) {
	return b.mem.GetPreviousHashes(nodeID)
}

// UpdateNodes applies the batch to the in-memory index, then persists
// the resulting snapshot to Badger in one transaction.
func (b *Badger) UpdateNodes(batch NodeBatch) error {
	if err := b.mem.UpdateNodes(batch); err != nil {
		return err
	}
	return b.persist()
}

// UpdateEdges applies the batch to the in-memory index, then persists.
func (b *Badger) UpdateEdges(batch EdgeBatch) error {
	if err := b.mem.UpdateEdges(batch); err != nil {
		return err
	}
	return b.persist()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// RunValueLogGC triggers Badger's value-log garbage collection. Keel
// calls this opportunistically after a large `map`; a no-op error of
// ErrNoRewrite is not a failure.
func (b *Badger) RunValueLogGC(discardRatio float64) error {
	err := b.db.RunValueLogGC(discardRatio)
	if err == badgerdb.ErrNoRewrite {
		return nil
	}
	return err
}
