// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package neurostore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// indicates that a work item tripped a database constraint; the item's
// savepoint rolls back and the batch carries on
type ConstraintError struct {
	Operation  string
	Constraint string
	Err        error
}

func (e ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s violated constraint %s: %v", e.Operation, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s violated a constraint: %v", e.Operation, e.Err)
}

func (e ConstraintError) Unwrap() error {
	return e.Err
}

// indicates that SSH tunneling was requested but no tunnel transport is wired
type TunnelUnavailableError struct {
	Host string
}

func (e TunnelUnavailableError) Error() string {
	return fmt.Sprintf("ssh tunneling to %s requested but no tunnel factory is installed", e.Host)
}

// integrity constraint violations carry SQLSTATE class 23
const constraintErrorClass = "23"

// storeError wraps a database failure, surfacing constraint violations as
// ConstraintError so callers can tell bad data from a broken connection.
func storeError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == constraintErrorClass {
		return ConstraintError{Operation: operation, Constraint: pgErr.ConstraintName, Err: err}
	}
	return fmt.Errorf("%s: %w", operation, err)
}
