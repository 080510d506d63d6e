// Package delivery tracks per-message delivery attempts independently of the
// broker's own exhaustion semantics, so retry ceilings stay testable without a
// live broker.
package delivery

// DefaultMaxDeliveries is the retry ceiling applied when configuration leaves
// it unset.
const DefaultMaxDeliveries = 10

// Delivery is one broker hand-off of a message: the raw payload plus the
// broker-assigned identifier and how many times it has been delivered so far.
// Count starts at 1 on first delivery.
type Delivery struct {
	MessageID string
	Raw       []byte
	Count     int
}

// ShouldRetry reports whether a message that failed transiently on delivery
// attempt count may be left for redelivery, given the configured ceiling.
// Once count reaches maxDeliveries the message must be parked instead of
// waiting for another attempt that will never be allowed.
func ShouldRetry(count, maxDeliveries int) bool {
	return count < maxDeliveries
}
