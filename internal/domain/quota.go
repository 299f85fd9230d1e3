// Package domain contains core business types and interfaces.
//
// This file defines quota limits and the admission check shared by every
// usage store and the quota service.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// UnlimitedValue is the external representation of an unlimited quota.
const UnlimitedValue int64 = -1

// Limit is a plan quota for a single resource. It is either unlimited or
// bounded by a positive maximum. The zero value is not a valid limit; use
// Unlimited or Bounded.
type Limit struct {
	max     int64
	bounded bool
	set     bool
}

// Unlimited returns a limit that always admits.
func Unlimited() Limit {
	return Limit{set: true}
}

// Bounded returns a limit admitting up to max units per period.
func Bounded(max int64) Limit {
	return Limit{max: max, bounded: true, set: true}
}

// ParseLimit converts the external representation (-1 or a positive
// integer) into a Limit.
func ParseLimit(raw int64) (Limit, error) {
	switch {
	case raw == UnlimitedValue:
		return Unlimited(), nil
	case raw > 0:
		return Bounded(raw), nil
	default:
		return Limit{}, fmt.Errorf("limit must be -1 (unlimited) or positive, got %d", raw)
	}
}

// IsUnlimited reports whether the limit always admits.
func (l Limit) IsUnlimited() bool {
	return l.set && !l.bounded
}

// IsZero reports whether the limit was never initialized.
func (l Limit) IsZero() bool {
	return !l.set
}

// Max returns the bounded maximum. ok is false for unlimited limits.
func (l Limit) Max() (max int64, ok bool) {
	return l.max, l.bounded
}

// Int64 returns the external representation: -1 when unlimited.
func (l Limit) Int64() int64 {
	if !l.bounded {
		return UnlimitedValue
	}
	return l.max
}

// Allows reports whether consuming amount on top of current stays within
// the limit. An uninitialized limit admits nothing.
func (l Limit) Allows(current, amount int64) bool {
	if !l.set {
		return false
	}
	if !l.bounded {
		return true
	}
	return current+amount <= l.max
}

// Percentage returns current usage as a percentage of the limit. Unlimited
// limits always report 0.
func (l Limit) Percentage(current int64) float64 {
	if !l.bounded || l.max <= 0 {
		return 0
	}
	return float64(current) * 100 / float64(l.max)
}

// Remaining returns the units left in the period, or -1 when unlimited.
func (l Limit) Remaining(current int64) int64 {
	if !l.bounded {
		return UnlimitedValue
	}
	if current >= l.max {
		return 0
	}
	return l.max - current
}

func (l Limit) String() string {
	if !l.bounded {
		return "unlimited"
	}
	return strconv.FormatInt(l.max, 10)
}

// MarshalJSON encodes the limit as its external integer form. An
// uninitialized limit encodes as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(l.Int64(), 10)), nil
}

// UnmarshalJSON decodes -1 or a positive integer. null leaves the zero value.
func (l *Limit) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = Limit{}
		return nil
	}
	var raw int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseLimit(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LimitCheck is the outcome of evaluating a requested amount against a
// tenant's current usage. Percentage reflects usage before the request.
type LimitCheck struct {
	Resource     Resource `json:"resource"`
	Allowed      bool     `json:"allowed"`
	CurrentUsage int64    `json:"currentUsage"`
	Limit        Limit    `json:"limit"`
	Percentage   float64  `json:"percentage"`
	Remaining    int64    `json:"remaining"`
}

// EvaluateLimit decides whether amount more units of resource may be
// consumed given the current counter value.
func EvaluateLimit(resource Resource, limit Limit, current, amount int64) LimitCheck {
	return LimitCheck{
		Resource:     resource,
		Allowed:      limit.Allows(current, amount),
		CurrentUsage: current,
		Limit:        limit,
		Percentage:   limit.Percentage(current),
		Remaining:    limit.Remaining(current),
	}
}
