package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("configuration invalid")

// Settings are the validated, immutable parameters of a distributor.
type Settings struct {
	transportPath  string
	pollIntervalMs int
	serviceName    string
}

// NewSettings validates and builds distributor settings. All problems are
// reported together in an error wrapping ErrInvalid.
func NewSettings(transportPath string, pollIntervalMs int, serviceName string) (Settings, error) {
	if errs := validateSettings(transportPath, pollIntervalMs, serviceName); len(errs) > 0 {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return Settings{
		transportPath:  transportPath,
		pollIntervalMs: pollIntervalMs,
		serviceName:    serviceName,
	}, nil
}

// GetSettings extracts distributor settings from a loaded file.
func GetSettings(f *File) (Settings, error) {
	if f == nil {
		return Settings{}, fmt.Errorf("%w: no configuration loaded", ErrInvalid)
	}
	d := f.Distributor
	return NewSettings(d.Transport, d.PollIntervalMs, d.ServiceName)
}

// TransportPath identifies the queue the distributor drains.
func (s Settings) TransportPath() string { return s.transportPath }

// PollIntervalMs is the interval between drain ticks in milliseconds.
func (s Settings) PollIntervalMs() int { return s.pollIntervalMs }

// PollInterval is PollIntervalMs as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.pollIntervalMs) * time.Millisecond
}

// ServiceName is the display name of the distributor.
func (s Settings) ServiceName() string { return s.serviceName }

func validateSettings(transportPath string, pollIntervalMs int, serviceName string) []error {
	var errs []error
	if transportPath == "" {
		errs = append(errs, fmt.Errorf("distributor: transport is required"))
	}
	if pollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("distributor: poll_interval_ms must be positive, got %d", pollIntervalMs))
	}
	if serviceName == "" {
		errs = append(errs, fmt.Errorf("distributor: service_name is required"))
	}
	return errs
}
