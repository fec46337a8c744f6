package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/wholestore/internal/fs"
)

// MetadataEntry describes one converted feature. Shape and dtype refer
// to the logical whole tensor, not to any single shard. Shards is the
// number of shard files actually written, which can be lower than the
// count requested when the ceiling division covers all rows early.
type MetadataEntry struct {
	Shape  []int  `json:"shape"`
	DType  string `json:"dtype"`
	Shards int    `json:"shards"`
}

// MetadataStore manages the metadata.json record next to the shard
// files. The record grows monotonically: conversion only ever adds keys.
// Saves go through a fsynced temp file and rename, so readers never see
// a torn record.
type MetadataStore struct {
	fsys fs.FileSystem
	path string
	mu   sync.Mutex
}

// NewMetadataStore creates a store for shardDir/metadata.json.
func NewMetadataStore(fsys fs.FileSystem, shardDir string) *MetadataStore {
	return &MetadataStore{
		fsys: fsys,
		path: filepath.Join(shardDir, MetadataFileName),
	}
}

// Load reads the current record. A missing file is an empty record.
func (s *MetadataStore) Load() (map[string]MetadataEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *MetadataStore) loadLocked() (map[string]MetadataEntry, error) {
	data, err := fs.ReadFile(s.fsys, s.path)
	if os.IsNotExist(err) {
		return map[string]MetadataEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var record map[string]MetadataEntry
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return record, nil
}

// Get returns the entry for a logical feature key.
func (s *MetadataStore) Get(key string) (MetadataEntry, error) {
	record, err := s.Load()
	if err != nil {
		return MetadataEntry{}, err
	}
	entry, ok := record[key]
	if !ok {
		return MetadataEntry{}, fmt.Errorf("feature %q not in %s", key, s.path)
	}
	return entry, nil
}

// Update merges entry under key and atomically rewrites the record.
func (s *MetadataStore) Update(key string, entry MetadataEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadLocked()
	if err != nil {
		return err
	}
	record[key] = entry

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(s.fsys, s.path, data, 0o644)
}
