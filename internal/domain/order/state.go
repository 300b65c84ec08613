package order

import (
	"strconv"
	"strings"
	"time"
)

// Status codes match the order_status lookup table.
type Status int

const (
	StatusCreated   Status = 1
	StatusPaid      Status = 2
	StatusShipped   Status = 3
	StatusDelivered Status = 4
	StatusCancelled Status = 5
)

var statusNames = map[Status]string{
	StatusCreated:   "Created",
	StatusPaid:      "Paid",
	StatusShipped:   "Shipped",
	StatusDelivered: "Delivered",
	StatusCancelled: "Cancelled",
}

// Statuses lists every recognized status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusCreated, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled}
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ParseStatus accepts a status name (case-insensitive) or its numeric code.
func ParseStatus(v string) (Status, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		s := Status(n)
		if !s.Valid() {
			return 0, ErrInvalidStatus
		}
		return s, nil
	}
	if strings.EqualFold(v, "canceled") {
		return StatusCancelled, nil
	}
	for s, name := range statusNames {
		if strings.EqualFold(name, v) {
			return s, nil
		}
	}
	return 0, ErrInvalidStatus
}

// CheckTransition enforces the lifecycle: moves go forward only (skipping
// intermediate states is allowed), Cancelled is reachable from any
// non-terminal state, and Delivered and Cancelled are final. Re-applying the
// current status is accepted.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if from == to {
		return nil
	}
	if from.Terminal() {
		return ErrInvalidTransition
	}
	if to == StatusCancelled || to > from {
		return nil
	}
	return ErrInvalidTransition
}

// TransitionTo applies to and reports whether the status changed.
func (o *Order) TransitionTo(to Status, now time.Time) (bool, error) {
	if err := CheckTransition(o.Status, to); err != nil {
		return false, err
	}
	if o.Status == to {
		return false, nil
	}
	o.Status = to
	o.touch(now)
	return true, nil
}

// MarkDeleted soft-deletes the order and forces it to Cancelled regardless of
// the current status.
func (o *Order) MarkDeleted(now time.Time) {
	o.Deleted = true
	o.Status = StatusCancelled
	o.touch(now)
}
