package config

import "time"

// PairingConfig tunes the join workflow and its housekeeping.
type PairingConfig interface {
	GetCodeLength() int
	GetAttemptWindow() time.Duration
	GetRateLimitThreshold() int
	// Negative durations disable the matching janitor step.
	GetPendingTTL() time.Duration
	GetEndedSessionRetention() time.Duration
	GetJanitorInterval() time.Duration
}

func (c mainConfig) GetCodeLength() int {
	return c.v.GetInt(KeyCodeLength)
}

func (c mainConfig) GetAttemptWindow() time.Duration {
	return c.v.GetDuration(KeyAttemptWindow)
}

func (c mainConfig) GetRateLimitThreshold() int {
	return c.v.GetInt(KeyRateLimitThreshold)
}

func (c mainConfig) GetPendingTTL() time.Duration {
	return c.v.GetDuration(KeyPendingTTL)
}

func (c mainConfig) GetEndedSessionRetention() time.Duration {
	return c.v.GetDuration(KeyEndedSessionRetention)
}

func (c mainConfig) GetJanitorInterval() time.Duration {
	return c.v.GetDuration(KeyJanitorInterval)
}
