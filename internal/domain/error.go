package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOwnership       = errors.New("resource does not belong to caller")

	// Order lifecycle
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrPaymentNotConfirmed    = errors.New("payment not confirmed by processor")

	// External collaborators
	ErrAuthenticity        = errors.New("webhook signature verification failed")
	ErrProvisioningFailure = errors.New("carrier provisioning failed")
	ErrSubscriberNotFound  = fmt.Errorf("subscriber not found: %w", ErrNotFound)
	ErrCarrierTimeout      = fmt.Errorf("carrier call timed out, outcome unknown: %w", ErrProvisioningFailure)
	ErrGateway             = errors.New("payment gateway error")

	// ErrCarrierCommitted means the carrier applied the change but its
	// result could not be read back. Re-dispatching would apply it twice.
	ErrCarrierCommitted = fmt.Errorf("carrier applied the change, result unavailable: %w", ErrProvisioningFailure)

	// Persistence
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)
