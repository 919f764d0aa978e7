// Package daemon supervises the flicd binary that owns the Bluetooth
// controller. The adapter only needs flicd to be reachable on its TCP
// port; it may be spawned here or already running system-wide.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrUnsupportedPlatform means no bundled flicd binary exists for this
// OS/architecture. Fatal at startup.
var ErrUnsupportedPlatform = errors.New("daemon: no flicd binary for this platform")

// processName is what flicd shows up as in the process table.
const processName = "flicd"

// Config locates and parameterizes the supervised daemon.
type Config struct {
	// BinaryDir is the root of the bundled per-platform flicd
	// binaries.
	BinaryDir string
	// DBPath is the button database flicd persists pairings to.
	DBPath string
	Host   string
	Port   int
}

// Supervisor starts and watches one flicd process. If a flicd is
// already running on the machine it is adopted instead of spawning a
// second one fighting over the controller.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopping bool
	onExit   func(error)
}

// New creates a supervisor; nothing runs until Start.
func New(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// OnExit registers a callback invoked when a spawned daemon exits
// without Stop being called. The adapter uses it to unload instead of
// silently operating against a dead connection.
func (s *Supervisor) OnExit(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// BinaryPath resolves the bundled flicd binary for the current
// platform under dir.
func BinaryPath(dir string) (string, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}
	var sub string
	switch runtime.GOARCH {
	case "amd64":
		sub = "x86_64"
	case "386":
		sub = "i386"
	case "arm":
		sub = "armv6l"
	case "arm64":
		sub = "aarch64"
	default:
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}
	return filepath.Join(dir, sub, processName), nil
}

// Start makes flicd reachable: adopt a running instance or spawn the
// bundled binary, then wait for the TCP port to accept.
func (s *Supervisor) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	if running, err := isProcessRunning(processName); err != nil {
		slog.Warn("[daemon] process scan failed, assuming flicd is not running", "error", err)
	} else if running {
		slog.Info("[daemon] adopting already running flicd", "addr", addr)
		return waitForPort(ctx, addr, 10*time.Second)
	}

	path, err := BinaryPath(s.cfg.BinaryDir)
	if err != nil {
		return err
	}

	cmd := exec.Command(path, "-f", s.cfg.DBPath, "-p", strconv.Itoa(s.cfg.Port))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: start %s: %w", path, err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	slog.Info("[daemon] started flicd", "pid", cmd.Process.Pid, "db", s.cfg.DBPath, "port", s.cfg.Port)

	go s.watch(cmd)

	if err := waitForPort(ctx, addr, 10*time.Second); err != nil {
		s.Stop()
		return err
	}
	return nil
}

func (s *Supervisor) watch(cmd *exec.Cmd) {
	err := cmd.Wait()
	s.mu.Lock()
	stopping := s.stopping
	onExit := s.onExit
	s.mu.Unlock()
	if stopping {
		return
	}
	slog.Error("[daemon] flicd exited unexpectedly", "error", err)
	if onExit != nil {
		onExit(err)
	}
}

// Stop kills a spawned daemon. Adopted daemons are left alone.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			slog.Warn("[daemon] killing flicd", "error", err)
		}
	}
}

// isProcessRunning reports whether a process with the given executable
// name exists.
func isProcessRunning(name string) (bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			continue
		}
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// waitForPort polls addr until a TCP connection succeeds.
func waitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon: %s not reachable after %s: %w", addr, timeout, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon: waiting for %s: %w", addr, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}
