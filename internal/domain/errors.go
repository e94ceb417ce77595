package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUpstreamData is returned when every feed failed and nothing is cached.
	ErrNoUpstreamData = errors.New("no_upstream_data")
	// ErrInvalidSnapshot is returned when a snapshot would carry no reading at all.
	ErrInvalidSnapshot = errors.New("invalid_snapshot")
	ErrDeviceNotFound  = errors.New("device_not_found")
	ErrInvalidPayload  = errors.New("invalid_payload")
	ErrDispatchFailed  = errors.New("dispatch_failed")
	// ErrTierUnavailable marks a storage tier that is not configured or not reachable.
	ErrTierUnavailable = errors.New("tier_unavailable")
)

// DispatchError carries the gateway failure reason recorded in the
// notification log.
type DispatchError struct {
	Reason string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed: %s", e.Reason)
}

func (e *DispatchError) Unwrap() error { return ErrDispatchFailed }
