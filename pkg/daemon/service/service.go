// Package service manages the logrelayd systemd user service unit.
package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
)

const unitName = "logrelayd.service"

// UnitContents returns the systemd unit file contents for the given binary
// and config paths. An empty configPath leaves the daemon on its default.
func UnitContents(binaryPath, configPath string) string {
	execStart := binaryPath
	if configPath != "" {
		execStart += " --config " + configPath
	}
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "logrelay distributor: relays queued log entries to listeners"),
		unit.NewUnitOption("Unit", "Documentation", "https://github.com/modoterra/logrelay"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", execStart),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Install", "WantedBy", "default.target"),
	}
	b, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		// Serialize reads from memory.
		panic(err)
	}
	return string(b)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads systemd, and enables+starts the service.
func Install(configPath string) error {
	binaryPath, err := exec.LookPath("logrelayd")
	if err != nil {
		return fmt.Errorf("logrelayd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve logrelayd path: %w", err)
	}
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return fmt.Errorf("cannot resolve config path: %w", err)
		}
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	contents := UnitContents(binaryPath, configPath)
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

// Uninstall stops+disables the service, removes the unit file, and reloads systemd.
func Uninstall() error {
	// Best-effort stop and disable; ignore errors if not running.
	_ = systemctl("stop", unitName)
	_ = systemctl("disable", unitName)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}

	return systemctl("daemon-reload")
}

// Status returns a human-readable status string.
func Status(socketPath string) string {
	var lines []string

	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			lines = append(lines, "systemd user service: "+activeState())
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

func activeState() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return "unknown"
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil || len(units) == 0 {
		return "unknown"
	}
	return units[0].ActiveState
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
