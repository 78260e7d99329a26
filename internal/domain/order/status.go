package order

// Status is the lifecycle state of a confirmed order.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// transitions is the fixed forward-progressing status graph. Cancelled and
// refunded are reachable from any non-terminal state and are handled in
// CanTransitionTo rather than listed per state.
var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaid},
	StatusPaid:           {StatusProcessing},
	StatusProcessing:     {StatusShipped},
	StatusShipped:        {StatusDelivered},
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaid, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Self-transitions are never allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next || s.Terminal() || !next.Valid() {
		return false
	}
	// Cancel/refund shortcut from any non-terminal state.
	if next == StatusCancelled || next == StatusRefunded {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
