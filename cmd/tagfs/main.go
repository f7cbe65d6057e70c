package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tagfs/internal/config"
	"tagfs/internal/facet"
	"tagfs/internal/fs"
	"tagfs/internal/index"
	"tagfs/internal/logging"
	"tagfs/internal/mutate"
	"tagfs/internal/state"
	"tagfs/internal/storage"
	"tagfs/internal/watcher"

	"github.com/spf13/pflag"
)

var (
	logger = logging.GetLogger()
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Print(config.Usage())
		return
	}
	if err != nil {
		logger.Error("Invalid configuration: %v", err)
		fmt.Fprint(os.Stderr, config.Usage())
		os.Exit(2)
	}

	// Configure logging based on config and flags
	if err := cfg.ApplyLogLevel(logger); err != nil {
		logger.Error("Invalid log level: %v", err)
		os.Exit(2)
	}
	if err := logger.Configure(cfg.LogOptions()); err != nil {
		logger.Error("Failed to configure logging: %v", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger.Info("Starting tagfs...")
	if path := cfg.GetConfigFilePath(); path != "" {
		logger.Debug("Config file: %s", path)
	}
	logger.Debug("Mount point: %s", cfg.Mount)
	logger.Debug("Source path: %s", cfg.Source)
	logger.Debug("State file: %s", cfg.State)

	logger.Info("Initializing state manager...")
	manager, err := state.NewManager(cfg.State, cfg.StateOptions())
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}

	snap, err := manager.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	var indexOpts []index.Option
	if !cfg.PruneEmptyTags {
		indexOpts = append(indexOpts, index.KeepEmptyTags())
	}
	store := index.NewStore(index.Restore(snap, indexOpts...))
	resolver := facet.New(cfg.ViewOptions())
	source := storage.NewOS(cfg.Source)
	translator := mutate.New(store, resolver, manager, mutate.Policy{AllowMerge: cfg.AllowMerge})

	logger.Info("Indexing source directory...")
	if err := translator.Reconcile(source); err != nil {
		return fmt.Errorf("failed to index source directory: %w", err)
	}

	if cfg.Watch {
		w, err := watcher.New(cfg.Source, cfg.WatchDebounce)
		if err != nil {
			return err
		}
		w.OnChange(func(events []watcher.Event) {
			logger.Debug("Source changed (%d events), re-indexing", len(events))
			if err := translator.Reconcile(source); err != nil {
				logger.Error("Re-index failed: %v", err)
			}
		})
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	logger.Info("Creating tag filesystem...")
	tfs, err := fs.NewTagFS(source, store, resolver, translator, fs.Options{
		FSName:     "tagfs",
		AllowOther: cfg.AllowOther,
		AttrValid:  fs.DefaultOptions().AttrValid,
	})
	if err != nil {
		return fmt.Errorf("failed to create tag filesystem: %w", err)
	}

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := tfs.Mount(cfg.Mount); err != nil {
		return err
	}
	logger.Info("Filesystem mounted and ready")

	// Wait for signal
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logger.Info("Received signal %v", sig)
		if err := tfs.Unmount(cfg.Mount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	serveErr := tfs.Wait()

	if err := translator.Save(); err != nil {
		logger.Error("Final save failed: %v", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	if serveErr != nil {
		return serveErr
	}
	logger.Info("Clean shutdown complete")
	return nil
}
