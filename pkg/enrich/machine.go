package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Machine property names.
const (
	PropMachineName = "Machine.Name"
	PropMachineID   = "Machine.Id"
	PropProcessID   = "Machine.ProcessId"
	PropProcessName = "Machine.ProcessName"
	PropUser        = "Machine.User"
	PropSystemdUnit = "Machine.SystemdUnit"
)

const unitLookupTimeout = 500 * time.Millisecond

var machineIDPath = "/etc/machine-id"

// NewMachineProvider returns a provider describing the host and the
// current process. Each property is looked up once per provider and the
// result, failure included, is reused for every later entry.
func NewMachineProvider(opts ...Option) *Provider {
	return NewProvider("machine", []Property{
		{Name: PropMachineName, Get: sampleOnce(hostname)},
		{Name: PropMachineID, Get: sampleOnce(machineID)},
		{Name: PropProcessID, Get: sampleOnce(processID)},
		{Name: PropProcessName, Get: sampleOnce(processName)},
		{Name: PropUser, Get: sampleOnce(currentUser)},
		{Name: PropSystemdUnit, Get: sampleOnce(systemdUnit)},
	}, opts...)
}

// sampleOnce memoizes get. The lookup runs detached from the first
// caller's cancellation; a panic is kept as the lookup's error.
func sampleOnce(get Accessor) Accessor {
	var (
		once  sync.Once
		value string
		err   error
	)
	return func(ctx context.Context) (string, error) {
		once.Do(func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%v", rec)
				}
			}()
			value, err = get(context.WithoutCancel(ctx))
		})
		return value, err
	}
}

func hostname(context.Context) (string, error) {
	return os.Hostname()
}

func machineID(context.Context) (string, error) {
	data, err := os.ReadFile(machineIDPath)
	if err != nil {
		return "", fmt.Errorf("read machine id: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", errors.New("machine id is empty")
	}
	return id, nil
}

func processID(context.Context) (string, error) {
	return strconv.Itoa(os.Getpid()), nil
}

func processName(context.Context) (string, error) {
	cmdline, err := os.ReadFile("/proc/self/cmdline")
	if err == nil {
		argv0, _, _ := strings.Cut(string(cmdline), "\x00")
		if argv0 != "" {
			return filepath.Base(argv0), nil
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return filepath.Base(exe), nil
}

func currentUser(context.Context) (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	return u.Username, nil
}

func systemdUnit(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, unitLookupTimeout)
	defer cancel()

	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	unit, err := conn.GetUnitNameByPID(ctx, uint32(os.Getpid()))
	if err != nil {
		return "", fmt.Errorf("unit lookup: %w", err)
	}
	return unit, nil
}
