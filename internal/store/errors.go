// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package store

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Error codes produced by this package.
//
//   - STORE_UNAVAILABLE: connectivity or authentication failure against
//     the database. Fatal at startup, recoverable mid-run on the next
//     triggering event.
//   - STORE_QUERY_FAILED: the database answered but the query failed.
//   - MALFORMED_RECORD: a row was missing expected fields. Never
//     returned; malformed rows are skipped and logged during loading.
const (
	CodeUnavailable     = "STORE_UNAVAILABLE"
	CodeQueryFailed     = "STORE_QUERY_FAILED"
	CodeMalformedRecord = "MALFORMED_RECORD"
)

// IsUnavailable returns true if the error is a STORE_UNAVAILABLE error
// from the permission store.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == CodeUnavailable
}

// wrapQueryErr classifies a query failure as unreachable vs failed and
// wraps it with operation context.
func wrapQueryErr(op string, err error) error {
	code := CodeQueryFailed
	if isConnectivityErr(err) {
		code = CodeUnavailable
	}
	return oops.In("store").Code(code).With("operation", op).Wrap(err)
}

// isConnectivityErr reports whether err indicates the database is
// unreachable rather than rejecting a well-formed query.
func isConnectivityErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInvalidAuthorizationSpecification(pgErr.Code)
	}
	return false
}
