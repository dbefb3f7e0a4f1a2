package auth

import (
	"time"

	"github.com/easelworks/easel/catalog"
)

// DeviceCodeChallenge is an issued device-code challenge with its expiry
// resolved to an absolute time. Immutable once issued.
type DeviceCodeChallenge struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	Interval                time.Duration
}

// Expired reports whether the challenge can no longer be redeemed.
func (c *DeviceCodeChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func newChallenge(resp *catalog.DeviceCodeResponse, now time.Time) *DeviceCodeChallenge {
	return &DeviceCodeChallenge{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresAt:               now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		Interval:                time.Duration(resp.Interval) * time.Second,
	}
}
