// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lore lazily generates and caches background text for discovered
// world elements. Entries are written once and reused across sessions; a
// cold entry is generated on first request, with concurrent requests for
// the same element coalesced into a single generation.
package lore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

// Loader produces the lore text for an element on a cache miss.
type Loader func(ctx context.Context, element string) (string, error)

// Cache is a badger-backed lore store.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Concurrent misses on the same
// element run the loader once.
type Cache struct {
	db     *badger.DB
	group  singleflight.Group
	loader Loader
}

// Open opens (or creates) the lore database at dir. An empty dir opens an
// in-memory database, used by tests.
func Open(dir string, loader Loader) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lore database: %w", err)
	}
	return &Cache{db: db, loader: loader}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func loreKey(element string) []byte {
	return []byte("lore/" + strings.ToLower(strings.TrimSpace(element)))
}

// Get returns the lore for an element, generating and persisting it on
// first request.
func (c *Cache) Get(ctx context.Context, element string) (string, error) {
	element = strings.TrimSpace(element)
	if element == "" {
		return "", fmt.Errorf("empty lore element")
	}

	if text, ok := c.lookup(element); ok {
		return text, nil
	}

	v, err, _ := c.group.Do(strings.ToLower(element), func() (any, error) {
		// Re-check under the flight: a racer may have written it.
		if text, ok := c.lookup(element); ok {
			return text, nil
		}
		text, err := c.loader(ctx, element)
		if err != nil {
			return "", fmt.Errorf("lore generation for %q: %w", element, err)
		}
		if err := c.put(element, text); err != nil {
			// The generated text is still good; only the reuse is lost.
			slog.Warn("failed to persist lore entry", "element", element, "error", err)
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Known reports whether an element already has a persisted entry.
func (c *Cache) Known(element string) bool {
	_, ok := c.lookup(element)
	return ok
}

func (c *Cache) lookup(element string) (string, bool) {
	var text string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(loreKey(element))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			text = string(val)
			return nil
		})
	})
	return text, err == nil
}

func (c *Cache) put(element, text string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(loreKey(element), []byte(text))
	})
}
