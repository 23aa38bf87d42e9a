package models

import "errors"

// Business-rule sentinels. Guard checks return these before any write
// happens; storage errors are passed through as-is.
var (
	// sequence issuer
	ErrSequenceExhausted = errors.New("sequence exhausted for this prefix and scope; choose a new scheme")

	// inventory ledger
	ErrLotExhausted      = errors.New("stock lot record is exhausted and cannot be reopened")
	ErrInsufficientStock = errors.New("insufficient available quantity at source tier")
	ErrLotInUse          = errors.New("stock lot already has consumption; cannot be removed")

	// bundle lifecycle
	ErrBundleShipped     = errors.New("bundle is already shipped")
	ErrBundleEmpty       = errors.New("bundle has no items")
	ErrAlreadyShipped    = errors.New("item is already shipped")
	ErrNotShipped        = errors.New("item is not shipped")
	ErrNothingToShip     = errors.New("all items already shipped")
	ErrNothingToUnbundle = errors.New("no bundled items left to unbundle")
)
