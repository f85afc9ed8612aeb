// Package jobs implements the durable job engine: two Redis-backed queues
// (webhooks, push) each with an independent worker loop, named retry
// policies, an SSRF guard for outbound webhook targets, HMAC request
// signing, and FCM HTTP v1 push delivery with per-device token pruning.
//
// Each queue is a Redis list for ready work plus a sorted set for delayed
// retries, drained by a worker loop started from Run(ctx).
package jobs

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a named retry policy.
type Policy string

const (
	PolicyNone     Policy = "none"
	PolicyLinear   Policy = "linear"
	PolicyStandard Policy = "standard"
)

// MaxAttempts returns the attempt budget for a named policy, defaulting to
// PolicyStandard for an unrecognised or empty value.
func MaxAttempts(p Policy) int {
	switch p {
	case PolicyNone:
		return 1
	case PolicyLinear:
		return 5
	default:
		return 10
	}
}

// NextDelay returns how long to wait before attempt number `attempt` (1
// for the first retry after an initial failure) of a job using policy p.
func NextDelay(p Policy, attempt int) time.Duration {
	switch p {
	case PolicyLinear:
		return 5 * time.Second
	case PolicyNone:
		return 0
	default:
		return standardBackoff(attempt)
	}
}

// standardBackoff computes an exponential delay with base 1s for the
// "standard" policy and the fixed push-job policy (3 attempts, same base).
func standardBackoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.1

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// PushMaxAttempts is the fixed attempt budget for push jobs (spec: always 3
// with exponential backoff from 1s, independent of the named policies).
const PushMaxAttempts = 3
