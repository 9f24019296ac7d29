// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package turn

import (
	"crypto/rand"
	"log/slog"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
)

// FateRoller resolves the per-turn fortune modifier. Production uses
// RollFate; tests inject a fixed roller.
type FateRoller func() datatypes.Fate

// RollFate draws a fate with the 25/50/25 weighting from a crypto-grade
// random byte: 0-63 LUCKY, 64-191 NORMAL, 192-255 UNLUCKY.
func RollFate() datatypes.Fate {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read failing means the platform entropy source is broken.
		// A neutral turn is the only sane fallback.
		slog.Error("fate roll failed, defaulting to NORMAL", "error", err)
		return datatypes.FateNormal
	}
	switch {
	case b[0] < 64:
		return datatypes.FateLucky
	case b[0] < 192:
		return datatypes.FateNormal
	default:
		return datatypes.FateUnlucky
	}
}
