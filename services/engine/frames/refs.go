// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package frames

import "github.com/AleutianAI/AleutianTale/services/engine/datatypes"

// DefaultReferenceCount is the number of prior frames fed to the image
// generator when the config does not say otherwise.
const DefaultReferenceCount = 1

// SelectReferences picks up to n recent frames to condition the next image
// on, newest last.
//
// The walk runs newest to oldest and stops at the first hard-transition
// frame it meets, including that frame. A hard transition starts a new
// scene; frames older than it belong to the previous scene and would pull
// the image generator backwards.
//
// n <= 0 falls back to DefaultReferenceCount. An empty buffer yields no
// references, which the image generator treats as a from-scratch render.
func SelectReferences(snapshot []Frame, n int) []datatypes.FrameRef {
	if n <= 0 {
		n = DefaultReferenceCount
	}

	var picked []datatypes.FrameRef
	for i := len(snapshot) - 1; i >= 0 && len(picked) < n; i-- {
		picked = append(picked, snapshot[i].Ref)
		if snapshot[i].HardTransition {
			break
		}
	}

	// Reverse into chronological order.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}
