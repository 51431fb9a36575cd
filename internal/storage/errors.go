package storage

import (
	"errors"
	"fmt"

	"stark-claimer/internal/domain"
)

// Storage errors.
var (
	// ErrInvalidInput is returned when a record cannot be stored as given.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupt is returned when stored data cannot be decoded.
	ErrCorrupt = errors.New("stored wallet data is corrupt")
)

// ValidateRecords checks the records handed to Save: every record must be
// non-nil, carry an address and be keyed by that normalized address.
func ValidateRecords(records map[string]*domain.WalletRecord) error {
	for key, r := range records {
		if r == nil || r.Address == "" {
			return fmt.Errorf("%w: empty record at %q", ErrInvalidInput, key)
		}
		if domain.NormalizeAddress(r.Address) != key {
			return fmt.Errorf("%w: record %s stored under %q", ErrInvalidInput, r.Address, key)
		}
	}
	return nil
}
