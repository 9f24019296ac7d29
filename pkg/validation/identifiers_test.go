// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	valid := []string{
		"default",
		"alpha",
		"Alpha-7_test",
		"a",
		strings.Repeat("x", 100),
		"550e8400-e29b-41d4-a716-446655440000",
	}
	for _, id := range valid {
		if err := ValidateSessionID(id); err != nil {
			t.Errorf("ValidateSessionID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		".",
		"..",
		"a/b",
		"a b",
		"../etc",
		"a.b",
		`a\b`,
		strings.Repeat("x", 101),
		"héllo",
	}
	for _, id := range invalid {
		if err := ValidateSessionID(id); err == nil {
			t.Errorf("ValidateSessionID(%q) = nil, want error", id)
		}
	}
}

func TestValidateFilename(t *testing.T) {
	valid := []string{
		"frame_0001.png",
		"replay.gif",
		"final.mp4",
		"a-b_c.d",
	}
	for _, name := range valid {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("ValidateFilename(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"",
		".",
		"..",
		"../x",
		"a/b.png",
		`a\b.png`,
		"x..png",
		"sp ace.png",
	}
	for _, name := range invalid {
		if err := ValidateFilename(name); err == nil {
			t.Errorf("ValidateFilename(%q) = nil, want error", name)
		}
	}
}
