package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/freaktechnik/flic-button-adapter/internal/adapter"
	"github.com/freaktechnik/flic-button-adapter/internal/config"
	"github.com/freaktechnik/flic-button-adapter/internal/daemon"
	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/gateway"
)

// The flic client must satisfy the adapter's daemon interface.
var _ adapter.DaemonClient = (*flic.Client)(nil)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/flic-adapter/config.yaml)")
	pairOnStart := flag.Bool("pair", false, "open a pairing window immediately on startup")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetLogLoggerLevel(config.ParseLogLevel(cfg.LogLevel))

	printBanner(cfg)

	ctx := context.Background()

	// fatal collects unrecoverable failures from background components.
	fatal := make(chan error, 2)

	// Start or adopt the flicd daemon
	var supervisor *daemon.Supervisor
	if cfg.Daemon.Spawn {
		supervisor = daemon.New(daemon.Config{
			BinaryDir: cfg.Daemon.BinaryDir,
			DBPath:    cfg.Daemon.DBPath,
			Host:      cfg.Daemon.Host,
			Port:      cfg.Daemon.Port,
		})
		supervisor.OnExit(func(err error) {
			fatal <- fmt.Errorf("flicd exited: %w", err)
		})
		if err := supervisor.Start(ctx); err != nil {
			log.Fatalf("Failed to start flicd: %v", err)
		}
		log.Println("flicd ready")
	}

	// Connect to the daemon socket
	daemonAddr := net.JoinHostPort(cfg.Daemon.Host, strconv.Itoa(cfg.Daemon.Port))
	client, err := dialDaemon(daemonAddr)
	if err != nil {
		if supervisor != nil {
			supervisor.Stop()
		}
		log.Fatalf("Failed to connect to flicd at %s: %v", daemonAddr, err)
	}
	client.OnClose(func(err error) {
		fatal <- fmt.Errorf("daemon connection lost: %w", err)
	})
	log.Printf("Connected to flicd at %s", daemonAddr)

	// Connect to the gateway
	bridge, err := gateway.Dial(cfg.Gateway.URL)
	if err != nil {
		client.Close()
		if supervisor != nil {
			supervisor.Stop()
		}
		log.Fatalf("Failed to connect to gateway at %s: %v", cfg.Gateway.URL, err)
	}
	log.Printf("Connected to gateway at %s", cfg.Gateway.URL)

	scanTimeout := time.Duration(cfg.Pairing.ScanTimeoutSeconds) * time.Second
	a := adapter.New(client, bridge, adapter.Options{
		ScanTimeout:    scanTimeout,
		ConnectTimeout: time.Duration(cfg.Pairing.ConnectTimeoutSeconds) * time.Second,
	})
	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start adapter: %v", err)
	}
	log.Printf("Adapter ready, %d button(s) known", a.Registry().Len())

	if *pairOnStart {
		if err := a.StartPairing(scanTimeout); err != nil {
			log.Printf("ERROR: failed to start pairing: %v", err)
		} else {
			log.Printf("Pairing window open for %s", scanTimeout)
		}
	}

	// Signal handling: SIGUSR1 opens a pairing window, SIGUSR2 cancels
	// it, SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	log.Println("Ready! Send SIGUSR1 to pair a new button. Ctrl+C to quit.")

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				if err := a.StartPairing(scanTimeout); err != nil {
					log.Printf("ERROR: failed to start pairing: %v", err)
					continue
				}
				log.Printf("Pairing window open for %s", scanTimeout)

			case syscall.SIGUSR2:
				a.CancelPairing()
				log.Println("Pairing cancelled")

			default:
				log.Printf("Received %s, shutting down...", sig)
				a.Stop()
				bridge.Close()
				if supervisor != nil {
					supervisor.Stop()
				}
				log.Println("Goodbye!")
				return
			}

		case err := <-fatal:
			log.Printf("ERROR: %v", err)
			a.Stop()
			bridge.Close()
			if supervisor != nil {
				supervisor.Stop()
			}
			os.Exit(1)
		}
	}
}

// dialDaemon connects to flicd, retrying briefly in case the daemon
// was just spawned and is still binding its socket.
func dialDaemon(addr string) (*flic.Client, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		client, err := flic.Dial(addr)
		if err == nil {
			return client, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// First run: write a commented default config for the user to edit
	if written, err := config.WriteDefault(); err == nil && written != "" {
		log.Printf("Wrote default config to %s", written)
	}
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== flic-adapter ===")
	fmt.Printf("  Daemon:  %s:%d (spawn: %v)\n", cfg.Daemon.Host, cfg.Daemon.Port, cfg.Daemon.Spawn)
	fmt.Printf("  Gateway: %s\n", cfg.Gateway.URL)
	fmt.Printf("  Pairing: scan %ds, connect %ds\n", cfg.Pairing.ScanTimeoutSeconds, cfg.Pairing.ConnectTimeoutSeconds)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
