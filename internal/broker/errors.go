package broker

import "errors"

// Sentinel errors returned by the broker. Insufficient cash or volume is not
// an error: those fills are silently deferred and retried on the next batch.
var (
	// ErrInvalidOrder reports malformed order parameters.
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrOrderAlreadyProcessed reports a submit, or a pre-submit mutation,
	// on an order that already left the initial state.
	ErrOrderAlreadyProcessed = errors.New("order already processed")

	// ErrOrderAlreadyFinalized reports a mutation on a filled or canceled
	// order.
	ErrOrderAlreadyFinalized = errors.New("order already finalized")

	// ErrOrderNotActive reports a cancellation of an order that was never
	// submitted.
	ErrOrderNotActive = errors.New("order is not active")

	// ErrUnsupportedFeature reports a request for adjusted prices when the
	// bar source does not provide adjusted closes.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrSequencing reports bar batches arriving out of timestamp order.
	// This is fatal and aborts the run.
	ErrSequencing = errors.New("bar batches out of sequence")
)
