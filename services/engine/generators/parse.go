// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generators

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the first balanced top-level JSON object out of a model
// response and unmarshals it into v. Models routinely wrap the payload in
// code fences or commentary; everything outside the outermost braces is
// discarded.
func extractJSON(raw string, v any) error {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return fmt.Errorf("no JSON object in model response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return json.Unmarshal([]byte(raw[start:i+1]), v)
			}
		}
	}
	return fmt.Errorf("unbalanced JSON object in model response")
}
