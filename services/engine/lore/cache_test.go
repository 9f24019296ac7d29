// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetGeneratesOnceAndCaches(t *testing.T) {
	var calls atomic.Int64
	c, err := Open("", func(ctx context.Context, element string) (string, error) {
		calls.Add(1)
		return "The history of " + element + ".", nil
	})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	text, err := c.Get(ctx, "the warden")
	require.NoError(t, err)
	assert.Equal(t, "The history of the warden.", text)
	assert.True(t, c.Known("the warden"))

	// Second hit, and case-insensitive key, served from cache.
	_, err = c.Get(ctx, "The Warden")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	var calls atomic.Int64
	block := make(chan struct{})
	c, err := Open("", func(ctx context.Context, element string) (string, error) {
		calls.Add(1)
		<-block
		return "lore", nil
	})
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := c.Get(context.Background(), "brass key")
			assert.NoError(t, err)
			assert.Equal(t, "lore", text)
		}()
	}
	close(block)
	wg.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestDistinctElementsLoadSeparately(t *testing.T) {
	c, err := Open("", func(ctx context.Context, element string) (string, error) {
		return fmt.Sprintf("about %s", element), nil
	})
	require.NoError(t, err)
	defer c.Close()

	a, err := c.Get(context.Background(), "Mara")
	require.NoError(t, err)
	b, err := c.Get(context.Background(), "feral dog")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLoaderErrorNotCached(t *testing.T) {
	var calls atomic.Int64
	c, err := Open("", func(ctx context.Context, element string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("model down")
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), "siren")
	require.Error(t, err)
	assert.False(t, c.Known("siren"))

	text, err := c.Get(context.Background(), "siren")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
}

func TestEmptyElementRejected(t *testing.T) {
	c, err := Open("", func(ctx context.Context, element string) (string, error) { return "x", nil })
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), "   ")
	assert.Error(t, err)
}
