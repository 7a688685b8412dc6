package dispatcher

// OverflowPolicy names the configured response to exceeding the long
// request limit L on a long submission.
type OverflowPolicy int

const (
	// Throw fails the submission synchronously with LongLimitExceededError.
	Throw OverflowPolicy = iota
	// Fail synthesizes a completed, failed operation delivered
	// asynchronously to the delegate's DidFail.
	Fail
	// Enqueue appends a waiter to the endpoint's long-waiter queue, admitted
	// when a long slot is released.
	Enqueue
)

func (p OverflowPolicy) String() string {
	switch p {
	case Throw:
		return "Throw"
	case Fail:
		return "Fail"
	case Enqueue:
		return "Enqueue"
	default:
		return "Unknown"
	}
}
