// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"encoding/hex"
	"fmt"

	"github.com/bureau-foundation/carextract/lib/contentid"
)

// IntegrityError reports a block whose bytes do not hash to the digest
// its identifier carries.
type IntegrityError struct {
	ID        contentid.ID
	Algorithm string
	Expected  []byte
	Actual    []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("block %s fails %s verification: expected %s, computed %s",
		e.ID, e.Algorithm, hex.EncodeToString(e.Expected), hex.EncodeToString(e.Actual))
}

// Verify recomputes the digest of data with the algorithm id names and
// compares it to id's digest. It returns nil on a match, an
// *IntegrityError on a mismatch, and a *carerr.FormatError if the
// algorithm is unknown.
func Verify(id contentid.ID, data []byte) error {
	algorithm, err := contentid.Algorithm(id)
	if err != nil {
		return err
	}
	expected := id.Digest()
	ok, actual, err := algorithm.Verify(data, expected)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", id, err)
	}
	if !ok {
		return &IntegrityError{
			ID:        id,
			Algorithm: algorithm.Name,
			Expected:  expected,
			Actual:    actual,
		}
	}
	return nil
}
