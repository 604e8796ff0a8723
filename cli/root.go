// Package cli wires the exef commands: the HTTP server, the per-entity
// storage migration and template seeding. Configuration comes from a YAML
// file, EXEF_-prefixed environment variables and flags, in that order of
// increasing precedence.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/api"
	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/config"
	"github.com/exef-io/exef/flow"
	"github.com/exef-io/exef/project"
	"github.com/exef-io/exef/router"
	"github.com/exef-io/exef/worker"
)

var cfgFile string

// RootCmd is the entry point of the exef binary.
var RootCmd = &cobra.Command{
	Use:   "exef",
	Short: "Silnik obiegu dokumentów księgowych",
	Long: `exef pobiera dokumenty z wielu źródeł (e-mail, KSeF, wyciągi bankowe,
pliki CSV), normalizuje je do wspólnego modelu i eksportuje do formatów
polskich programów księgowych (wFirma, JPK_PKPIR, Comarch Optima,
Symfonia, enova365).`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"ścieżka pliku konfiguracyjnego (domyślnie ./exef.yaml)")
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(migrateCmd)
	RootCmd.AddCommand(seedCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig("EXEF", cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func openRouter(cfg *config.Config) (*router.Router, error) {
	return router.Open(router.Config{
		MainPath:     cfg.Database.MainPath,
		PerEntity:    cfg.Database.UseEntityDB,
		EntityDir:    cfg.Database.EntityDir,
		PathTemplate: cfg.Database.EntityPathTemplate,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Uruchamia serwer HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := openRouter(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.MigrateToPerEntity(); err != nil {
			common.Logger.WithError(err).Error("per-entity migration incomplete")
		}
		if err := project.SeedTemplates(rt.Main()); err != nil {
			return fmt.Errorf("failed to seed templates: %w", err)
		}

		registry := adapters.NewRegistry()
		server := api.NewServer(cfg, rt, registry)

		var sched *worker.Scheduler
		if cfg.Worker.Enabled {
			sched = worker.NewScheduler(rt, flow.New(rt, registry), worker.Config{
				TickInterval: cfg.Worker.TickInterval,
				Concurrency:  cfg.Worker.Concurrency,
			})
			sched.Start()
		}

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			if sched != nil {
				sched.Stop()
			}
			return err
		case sig := <-quit:
			common.Logger.WithField("signal", sig.String()).Info("shutting down")
		}

		if sched != nil {
			sched.Stop()
		}
		return server.Shutdown()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migruje schemat bazy i, w trybie per-entity, rozdziela dane podmiotów",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := openRouter(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.MigrateToPerEntity(); err != nil {
			return err
		}
		common.Logger.Info("migration finished")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed-templates",
	Short: "Zapisuje systemowe szablony projektów",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := openRouter(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()
		return project.SeedTemplates(rt.Main())
	},
}
