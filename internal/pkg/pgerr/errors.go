// Package pgerr defines the error taxonomy shared by the three server
// roles. Sentinels are matched with errors.Is after wrapping.
package pgerr

import "errors"

var (
	// ErrDuplicateRequest rejects a webhook delivery whose idempotency
	// key was already accepted for the same handler destination.
	ErrDuplicateRequest = errors.New("order with such ID has been already sent")

	// ErrRequestNotFound means the forwarded incoming request id does
	// not exist in the ledger store.
	ErrRequestNotFound = errors.New("incoming request not found")

	// ErrAlreadyProcessed guards the processing role against
	// re-delivery of a request already in a terminal status.
	ErrAlreadyProcessed = errors.New("incoming request is already processed or failed")

	// ErrUnknownPaymentSystem rejects callbacks routed for a provider
	// the processing role does not support.
	ErrUnknownPaymentSystem = errors.New("unknown payment system")

	// ErrAuthenticity means the provider signature check failed.
	ErrAuthenticity = errors.New("signature is incorrect")

	// ErrOrderNotFound, ErrProductNotFound and ErrOwnerNotFound mark
	// missing document-store entities referenced by a callback.
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrOwnerNotFound   = errors.New("product owner not found")

	// ErrBalanceNotFound means the owner has no document-store balance
	// record for the settlement currency.
	ErrBalanceNotFound = errors.New("product owner balance not found")

	// ErrInvalidAmount rejects non-numeric settlement amounts.
	ErrInvalidAmount = errors.New("amount value is not a number")

	// ErrInternal covers parse and serialization failures.
	ErrInternal = errors.New("internal processing error")
)
