package types

import "time"

// Tunables recognized by the control plane. Values mirror the documented
// defaults; the server config may override any of them.
const (
	DefaultHeartbeatInterval         = 10 * time.Second
	DefaultMissedHeartbeatsToError   = 3
	DefaultDispatchTimeout           = 60 * time.Second
	DefaultCancelGrace               = 30 * time.Second
	DefaultArtifactChunkBytes        = 64 * 1024
	MinArtifactChunkBytes            = 1024
	MaxArtifactChunkBytes            = 4 * 1024 * 1024
	DefaultSendBufferMessages        = 256
	DefaultRetryBaseDelay            = 30 * time.Second
	DefaultRetryMultiplier           = 2.0
	DefaultLogRetention              = 24 * time.Hour
	DefaultEventRetention            = 7 * 24 * time.Hour
	DefaultArtifactTransferTimeout   = 10 * time.Minute
	DefaultArtifactTransferAttempts  = 3
	DefaultJobTimeout                = time.Hour
	MaxJobTimeout                    = 24 * time.Hour
)

// DefaultRetryPolicy applies when a submission carries no policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 0,
		BaseDelay:  DefaultRetryBaseDelay,
		Multiplier: DefaultRetryMultiplier,
	}
}

// ClampJobTimeout normalizes a requested job timeout into the allowed range.
func ClampJobTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultJobTimeout
	}
	if d > MaxJobTimeout {
		return MaxJobTimeout
	}
	return d
}

// ClampChunkSize normalizes a requested artifact chunk size.
func ClampChunkSize(n int) int {
	if n <= 0 {
		return DefaultArtifactChunkBytes
	}
	if n < MinArtifactChunkBytes {
		return MinArtifactChunkBytes
	}
	if n > MaxArtifactChunkBytes {
		return MaxArtifactChunkBytes
	}
	return n
}
