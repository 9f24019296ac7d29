// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file paths. Session ids name directories under the data root and filenames
// are served straight off disk, so both are validated before any filesystem
// access to prevent path traversal.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// sessionIDPattern matches valid session identifiers.
// Allows: letters, digits, underscore, hyphen. Max length: 100 characters.
// Dots and path separators are deliberately excluded; a session id becomes
// a directory name.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// filenamePattern matches filenames that are safe to resolve inside a
// session's asset directories.
var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateSessionID validates a session identifier before it is used as a
// directory name.
//
// Valid ids:
//   - 1-100 characters
//   - Letters A-Z a-z, digits 0-9, underscore, hyphen
//
// Everything else is rejected, including ".", "..", and anything with a
// path separator.
//
// Example:
//
//	if err := validation.ValidateSessionID(id); err != nil {
//	    return fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
//	}
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q (must be 1-100 chars of [A-Za-z0-9_-])", id)
	}
	return nil
}

// ValidateFilename validates a filename requested from a session's images,
// tapes, or videos directory.
//
// A valid filename matches [A-Za-z0-9._-]+, is not "." or "..", and
// contains no ".." sequence and no path separator.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("filename %q is reserved", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("filename %q contains a parent-directory sequence", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("filename %q contains a path separator", name)
	}
	if !filenamePattern.MatchString(name) {
		return fmt.Errorf("invalid filename %q (must match [A-Za-z0-9._-]+)", name)
	}
	return nil
}
