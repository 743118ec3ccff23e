package config

import "time"

const minInterval = 180 * time.Second

type SessionConfig interface {
	GetTimeout() time.Duration
	GetRetries() int
	GetForceReloginAfter() time.Duration
	GetAcceptTerms() bool
	GetInterval() time.Duration
	GetMaxAge() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetTimeout() time.Duration {
	return getDuration("WECONNECT_TIMEOUT", 180*time.Second)
}

func (Session) GetRetries() int {
	return getInt("WECONNECT_RETRIES", 3)
}

// GetForceReloginAfter is zero (disabled) unless set.
func (Session) GetForceReloginAfter() time.Duration {
	return getDuration("WECONNECT_FORCE_RELOGIN_AFTER", 0)
}

func (Session) GetAcceptTerms() bool {
	return getBool("WECONNECT_ACCEPT_TERMS", false)
}

// GetInterval is the polling interval, never below three minutes.
func (Session) GetInterval() time.Duration {
	return max(getDuration("WECONNECT_INTERVAL", 300*time.Second), minInterval)
}

// GetMaxAge defaults to one second less than the polling interval.
func (s Session) GetMaxAge() time.Duration {
	return getDuration("WECONNECT_MAX_AGE", s.GetInterval()-time.Second)
}
