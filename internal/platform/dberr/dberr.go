// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package dberr provides a bridge between low-level database errors and
// higher-level pipeline errors.
package dberr

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Wrap inspects a database error and wraps it into a fatal [apperr.AppError].
// Storage failures never degrade silently: the run stops instead.
//
// Upserts resolve natural-key conflicts in SQL, so a unique violation that still
// reaches Wrap means the schema and the conflict targets disagree. It is called
// out in the message.
func Wrap(err error, action string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}
	if IsUniqueViolation(err) {
		return apperr.Persistence(action+": unique constraint violated", err)
	}
	return apperr.Persistence(action, err)
}

// IsNoRows reports whether err means the query matched nothing, for either driver.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
