package handler

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListingRef is what a marketplace hands back for a live listing.
type ListingRef struct {
	ListingID string
	URL       string
}

// Marketplace is the narrow collaborator contract for sites with a real
// API. Transport, auth and payload construction live behind it; handlers
// never see any of that.
type Marketplace interface {
	Publish(ctx context.Context, resourceID string, params json.RawMessage) (ListingRef, error)
	Update(ctx context.Context, resourceID, listingID string, params json.RawMessage) (ListingRef, error)
	Delete(ctx context.Context, listingID string) error
	Sync(ctx context.Context, resourceID string) (ListingRef, error)
}

// Error lets a collaborator tell the engine whether retrying can help.
// A 4xx validation rejection is permanent; network trouble and 5xx are not.
type Error struct {
	Permanent bool
	Msg       string
}

func (e *Error) Error() string { return e.Msg }

func Permanentf(format string, args ...any) error {
	return &Error{Permanent: true, Msg: fmt.Sprintf(format, args...)}
}

func Transientf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
