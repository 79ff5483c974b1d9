package model

import "errors"

// Errors shared by the intake, evaluation, settlement and configuration paths.
var (
	ErrUnknownAnalyst        = errors.New("unknown analyst")
	ErrUnknownAccount        = errors.New("unknown account")
	ErrUnknownSignal         = errors.New("unknown signal")
	ErrMalformedSignal       = errors.New("malformed signal")
	ErrMalformedSettlement   = errors.New("malformed settlement")
	ErrDuplicateSettlement   = errors.New("duplicate settlement")
	ErrConfigurationConflict = errors.New("configuration conflict")
	ErrLedgerWrite           = errors.New("ledger write failure")
)
