package config

import (
	"fmt"

	"github.com/modoterra/logrelay/pkg/core"
)

// Validate checks the configuration for structural correctness and returns
// every problem found.
func Validate(f *File) []error {
	var errs []error

	if f.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", f.Version))
	}

	errs = append(errs, validateSettings(f.Distributor.Transport, f.Distributor.PollIntervalMs, f.Distributor.ServiceName)...)

	d := f.Distributor
	if d.ReceiveTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("distributor: receive_timeout_ms must not be negative, got %d", d.ReceiveTimeoutMs))
	}
	if d.MaxPerTick < 0 {
		errs = append(errs, fmt.Errorf("distributor: max_per_tick must not be negative, got %d", d.MaxPerTick))
	}
	if d.Redelivery.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("distributor: redelivery.max_attempts must not be negative, got %d", d.Redelivery.MaxAttempts))
	}

	switch f.Codec.Format {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("codec: format must be json or cbor, got %q", f.Codec.Format))
	}
	switch f.Codec.Compression {
	case "", "none", "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("codec: compression must be none, zstd, or lz4, got %q", f.Codec.Compression))
	}

	if len(f.Listeners) == 0 {
		errs = append(errs, fmt.Errorf("config must define at least one listener"))
	}

	seen := make(map[string]bool)
	for i, l := range f.Listeners {
		label := l.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if seen[l.Name] && l.Name != "" {
			errs = append(errs, fmt.Errorf("listener %q: duplicate name", label))
		}
		seen[l.Name] = true

		switch l.Kind {
		case "console", "journald":
		case "file":
			if l.Path == "" {
				errs = append(errs, fmt.Errorf("listener %q (file): path is required", label))
			}
		case "":
			errs = append(errs, fmt.Errorf("listener %q: kind is required", label))
		default:
			errs = append(errs, fmt.Errorf("listener %q: unknown kind %q", label, l.Kind))
		}

		if l.MinLevel != "" {
			if _, err := core.ParseSeverity(l.MinLevel); err != nil {
				errs = append(errs, fmt.Errorf("listener %q: min_level: %w", label, err))
			}
		}
	}

	return errs
}
