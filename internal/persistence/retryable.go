// Package persistence implements the Postgres stores behind the ledger,
// duel and lottery engines, plus the batched journal writer. All stores
// classify transient Postgres failures so the retry loops above can tell
// a lost race from a real error.
package persistence

import (
	"SpiritLedger/internal/ledger"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// SQLSTATE classes that resolve on retry: serialization failure,
// deadlock detected, lock not available.
var retryableStates = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// classify wraps transient Postgres errors in ledger.ErrConflict so the
// bounded retry in the service layer picks them up. Everything else
// passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && retryableStates[string(pqErr.Code)] {
		return fmt.Errorf("%w: sqlstate %s: %v", ledger.ErrConflict, pqErr.Code, err)
	}
	return err
}

// isUniqueViolation reports a unique or exclusion constraint breach.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "23P01")
}
