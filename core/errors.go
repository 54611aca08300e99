package core

import "errors"

// ErrNotFound is returned by stores when a key/row does not exist.
var ErrNotFound = errors.New("not found")

// ErrRaceLost is returned by a conditional transition when another writer
// already moved the row out of the expected prior status.
var ErrRaceLost = errors.New("race lost: status changed concurrently")

// ErrInsufficientFunds is returned by the vault when a lock or deduct would
// take available (or offchain-spendable) balance below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidTransition is returned when a requested status change is not in
// the valid-transitions table and force was not set.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrAlreadyExists is returned on duplicate inserts where the caller needs
// to distinguish "already there" from a hard failure (e.g. tx_events,
// jackpot_contributions idempotency guards).
var ErrAlreadyExists = errors.New("already exists")
