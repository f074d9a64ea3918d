// Command wardend runs the recursive/forwarding/authoritative-capable DNS
// server: it loads config.yml (gopkg.in/yaml.v3), wires every pipeline
// component, watches the config file and optional RPZ zone file for
// changes with fsnotify, and serves until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/firewall"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/server"
	"github.com/wardendns/warden/pkg/storage"
	"github.com/wardendns/warden/pkg/telemetry"
)

var (
	configPath     = flag.String("config", "config.yml", "path to configuration file")
	showVersion    = flag.Bool("version", false, "show version information and exit")
	validateConfig = flag.Bool("validate-config", false, "validate configuration file and exit")

	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("warden DNS server\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
		fmt.Printf("Go version: %s\n", runtime.Version())
		os.Exit(0)
	}

	if *validateConfig {
		if _, err := loadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration valid")
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("warden starting", "version", version, "build_time", buildTime, "git_commit", gitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	telem, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telem.Shutdown(context.Background())

	srv, err := server.New(cfg, logger, telem.Metrics)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	if err := loadPoliciesFromStorage(srv, store, logger); err != nil {
		logger.Warn("failed to load persisted policies", "error", err)
	}
	reloadFirewall(srv, cfg, logger)

	watcher, err := newConfigWatcher(*configPath, cfg, logger)
	if err != nil {
		logger.Error("failed to start config watcher", "error", err)
		os.Exit(1)
	}
	watcher.OnChange(func(newCfg config.Config) {
		reloadFirewall(srv, newCfg, logger)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("warden stopped")
}

// loadPoliciesFromStorage seeds the firewall with any RPZ policies
// persisted from a previous run, ahead of the inline/zone-file policies
// the config watcher applies next.
func loadPoliciesFromStorage(srv *server.Server, store storage.Storage, logger *logging.Logger) error {
	records, err := store.LoadPolicies(context.Background())
	if err != nil {
		return err
	}
	for _, rec := range records {
		srv.Firewall().AddPolicy(firewall.Policy{
			Domain:     rec.Domain,
			Action:     parseAction(rec.Action),
			Category:   rec.Category,
			RedirectTo: rec.RedirectTo,
			Message:    rec.Message,
			Priority:   rec.Priority,
		})
	}
	logger.Info("loaded persisted policies", "count", len(records))
	return nil
}

// reloadFirewall atomically rebuilds the firewall's policy trie from the
// config's inline policies plus its optional RPZ zone file, called from
// the config watcher whenever either changes on disk.
func reloadFirewall(srv *server.Server, cfg config.Config, logger *logging.Logger) {
	policies := make([]firewall.Policy, 0, len(cfg.Firewall.Policies))
	for _, p := range cfg.Firewall.Policies {
		policies = append(policies, firewall.Policy{
			Domain:     p.Domain,
			Action:     parseAction(p.Action),
			Category:   p.Category,
			RedirectTo: p.RedirectTo,
			Message:    p.Message,
			Priority:   p.Priority,
		})
	}
	if cfg.Firewall.ZoneFile != "" {
		zonePolicies, err := loadZoneFile(cfg.Firewall.ZoneFile)
		if err != nil {
			logger.Error("failed to load rpz zone file", "path", cfg.Firewall.ZoneFile, "error", err)
		} else {
			policies = append(policies, zonePolicies...)
		}
	}
	srv.Firewall().Reload(policies)
	logger.Info("firewall policies reloaded", "count", len(policies))
}

func parseAction(s string) firewall.Action {
	switch s {
	case "nxdomain":
		return firewall.ActionNXDomain
	case "nodata":
		return firewall.ActionNoData
	case "redirect":
		return firewall.ActionRedirect
	case "tcp_only":
		return firewall.ActionTCPOnly
	case "drop":
		return firewall.ActionDrop
	default:
		return firewall.ActionPassthru
	}
}
