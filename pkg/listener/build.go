package listener

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/modoterra/logrelay/pkg/config"
	"github.com/modoterra/logrelay/pkg/core"
)

// Set is the ordered list of listeners built from configuration.
type Set struct {
	Listeners []core.Listener
	closers   []io.Closer
}

// Close closes every listener that holds resources.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Build creates the configured listeners in order. Console listeners write
// to stdout.
func Build(defs []config.Listener) (*Set, error) {
	set := &Set{}
	for _, def := range defs {
		l, err := build(def)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("listener %q: %w", def.Name, err)
		}
		if c, ok := l.(io.Closer); ok {
			set.closers = append(set.closers, c)
		}

		var out core.Listener = l
		if def.MinLevel != "" || len(def.Categories) > 0 {
			var minSeverity core.Severity
			if def.MinLevel != "" {
				minSeverity, err = core.ParseSeverity(def.MinLevel)
				if err != nil {
					set.Close()
					return nil, fmt.Errorf("listener %q: %w", def.Name, err)
				}
			}
			out = NewFiltered(l, minSeverity, def.Categories)
		}
		set.Listeners = append(set.Listeners, out)
	}
	return set, nil
}

func build(def config.Listener) (core.Listener, error) {
	switch def.Kind {
	case "console":
		color := true
		if def.Color != nil {
			color = *def.Color
		}
		return NewConsole(def.Name, os.Stdout, color), nil
	case "file":
		return NewFile(def.Name, def.Path)
	case "journald":
		return NewJournald(def.Name, def.Identifier)
	default:
		return nil, fmt.Errorf("unknown kind %q", def.Kind)
	}
}
