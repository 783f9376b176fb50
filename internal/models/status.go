package models

var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid: {PaymentPaid},
	PaymentPaid:   {},
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// AllowedNext returns the statuses reachable from s in one step
func (s OrderStatus) AllowedNext() []OrderStatus {
	next := statusTransitions[s]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

func (p PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[p]
	return ok
}

func (p PaymentStatus) AllowedNext() []PaymentStatus {
	next := paymentTransitions[p]
	out := make([]PaymentStatus, len(next))
	copy(out, next)
	return out
}

// ValidateStatusTransition checks current -> requested against the transition table
func ValidateStatusTransition(current, requested OrderStatus) error {
	for _, s := range statusTransitions[current] {
		if s == requested {
			return nil
		}
	}
	allowed := make([]string, 0, len(statusTransitions[current]))
	for _, s := range statusTransitions[current] {
		allowed = append(allowed, string(s))
	}
	return &InvalidTransitionError{
		Field:     "status",
		Current:   string(current),
		Requested: string(requested),
		Allowed:   allowed,
	}
}

// ValidatePaymentTransition checks current -> requested; payment only moves forward
func ValidatePaymentTransition(current, requested PaymentStatus) error {
	for _, s := range paymentTransitions[current] {
		if s == requested {
			return nil
		}
	}
	allowed := make([]string, 0, len(paymentTransitions[current]))
	for _, s := range paymentTransitions[current] {
		allowed = append(allowed, string(s))
	}
	return &InvalidTransitionError{
		Field:     "paymentStatus",
		Current:   string(current),
		Requested: string(requested),
		Allowed:   allowed,
	}
}

// ApplyPatch validates every field of patch against o and returns the updated copy.
// o is left untouched on error.
func ApplyPatch(o Order, patch OrderPatch) (Order, error) {
	if patch.Status != nil {
		if err := ValidateStatusTransition(o.Status, *patch.Status); err != nil {
			return o, err
		}
		o.Status = *patch.Status
	}
	if patch.PaymentStatus != nil {
		if err := ValidatePaymentTransition(o.PaymentStatus, *patch.PaymentStatus); err != nil {
			return o, err
		}
		o.PaymentStatus = *patch.PaymentStatus
	}
	return o, nil
}
