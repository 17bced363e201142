package circuitbreaker

import "time"

// Settings is the config-file shape of a breaker.
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// HTTPDefaults is used for the embedding endpoint and Qdrant.
func HTTPDefaults() Settings {
	return Settings{MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2}
}

// DatabaseDefaults is used for the record store.
func DatabaseDefaults() Settings {
	return Settings{MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 2}
}

// RedisDefaults is used for the embedding cache and the record lock.
func RedisDefaults() Settings {
	return Settings{MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2}
}

// Or fills zero fields of s from def.
func (s Settings) Or(def Settings) Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = def.MaxRequests
	}
	if s.Interval == 0 {
		s.Interval = def.Interval
	}
	if s.Timeout == 0 {
		s.Timeout = def.Timeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = def.SuccessThreshold
	}
	return s
}

// ToConfig converts Settings to a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}
