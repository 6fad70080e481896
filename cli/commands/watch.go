package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/cli/internal/config"
	"github.com/schemaguard/schemaguard/cli/internal/ui"
	"github.com/schemaguard/schemaguard/cli/internal/watch"
	"github.com/schemaguard/schemaguard/engine"
	"github.com/schemaguard/schemaguard/store"
)

// newWatchCommand registers migrations from <name>.up.sql /
// <name>.down.sql pairs as they appear in the migrations directory.
func newWatchCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the migrations directory and register new SQL pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			eng := buildEngine(cfg, db)
			if err := eng.EnsureSchema(cmd.Context()); err != nil {
				return err
			}

			watcher, err := watch.NewWatcher(cfg.MigrationsDir, func() error {
				return registerFromDir(cmd.Context(), eng, cfg.MigrationsDir, cfg.Actor)
			})
			if err != nil {
				return err
			}
			defer watcher.Stop()

			if err := watcher.Start(); err != nil {
				return err
			}

			ui.PrintInfo("watching %s (ctrl-c to stop)", cfg.MigrationsDir)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
}

// registerFromDir registers every up/down pair whose name is not yet
// known to the store.
func registerFromDir(ctx context.Context, eng *engine.Engine, dir, actor string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if entry.IsDir() || !ok {
			continue
		}

		upSQL, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		downSQL, err := os.ReadFile(filepath.Join(dir, name+".down.sql"))
		if err != nil && !os.IsNotExist(err) {
			return err
		}

		m, err := eng.CreateMigration(ctx, name, string(upSQL), string(downSQL), actor)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateName) {
				continue
			}
			return err
		}
		ui.PrintSuccess("registered migration %q (id %s)", m.Name, m.ID)
	}
	return nil
}
