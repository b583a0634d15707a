package cache

import (
	"context"
	"time"
)

const DonationRequestKeyPrefix = "donation_request:"

const DonationRequestTTL = time.Minute

func DonationRequestKey(id string) string {
	return DonationRequestKeyPrefix + id
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateDonationRequest(ctx context.Context, id string) {
	Invalidate(ctx, DonationRequestKey(id))
}
