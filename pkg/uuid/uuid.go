// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package uuid provides time-ordered unique identifiers for persisted rows.

It wraps the standard UUID library to generate Version 7 values, which keep
the release tables' primary key indexes append-mostly in both PostgreSQL and
SQLite.

Identifiers are stored in their canonical 36-character form. [Compact] gives
the 32-character hex form used where an external system restricts the
identifier alphabet.
*/
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// # Generators

// New generates a new UUIDv7 string.
func New() string {

	// Create a new version 7 UUID (time-sortable)
	id, err := uuid.NewV7()

	// entropy failure is an unrecoverable system-level error
	if err != nil {
		panic("uuid: failed to generate UUIDv7: " + err.Error())
	}

	return id.String()
}

// # Formatting

// Compact returns id as 32 lowercase hex characters without hyphens.
// The result is deterministic, so the same row always maps to the same value.
func Compact(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(parsed.String(), "-", ""), nil
}
