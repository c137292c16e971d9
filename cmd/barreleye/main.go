package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barreleye/barreleye/internal/api"
	"github.com/barreleye/barreleye/internal/apperr"
	"github.com/barreleye/barreleye/internal/blobstore"
	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/config"
	"github.com/barreleye/barreleye/internal/leader"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/progress"
	"github.com/barreleye/barreleye/internal/pruner"
	"github.com/barreleye/barreleye/internal/scheduler"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// Version information, set via ldflags during build — kept from the
// teacher's cmd/warren/main.go convention.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var settings = config.Defaults()

var rootCmd = &cobra.Command{
	Use:   "barreleye",
	Short: "Barreleye - multi-blockchain indexer",
	Long: `Barreleye ingests blocks from heterogeneous blockchains, extracts them
into a columnar storage layer, derives transfers/balances/links between
addresses, and exposes the results through a query API.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Barreleye version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config-file", "", "Optional YAML config overlay, layered below CLI flags and environment variables")
	rootCmd.Flags().StringSlice("mode", []string{"both"}, "Process mode: indexer, http, or both")
	rootCmd.Flags().String("storage", settings.Storage, "Block extract storage target (local path or S3-compatible URL)")
	rootCmd.Flags().String("database", settings.Database, "Catalog database URL (sqlite/postgres/mysql)")
	rootCmd.Flags().String("warehouse", settings.Warehouse, "Warehouse URL (local DuckDB-style file or ClickHouse http(s) endpoint)")
	rootCmd.Flags().String("ip", settings.IP, "HTTP server listen IP")
	rootCmd.Flags().Uint16("port", settings.Port, "HTTP server listen port")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// exitCodeFor maps the apperr taxonomy to process exit codes, per
// common/src/errors.rs's documented exit-code mapping (apperr's package doc).
func exitCodeFor(err error) int {
	switch err.(type) {
	case *apperr.ConfigError:
		return 78 // EX_CONFIG
	case *apperr.ConnectionError, *apperr.NetworkError, *apperr.IndexingError:
		return 69 // EX_UNAVAILABLE
	case *apperr.SignalHandlerError:
		return 71 // EX_OSERR
	default:
		return 1
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configFile, _ := cmd.Flags().GetString("config-file"); configFile != "" {
		if err := settings.LoadFile(configFile); err != nil {
			return err
		}
	}

	if cmd.Flags().Changed("mode") {
		modes, _ := cmd.Flags().GetStringSlice("mode")
		settings.ApplyModes(modes)
	} else if !settings.IsIndexer && !settings.IsServer {
		settings.ApplyModes(nil)
	}
	if cmd.Flags().Changed("storage") {
		settings.Storage, _ = cmd.Flags().GetString("storage")
	}
	if cmd.Flags().Changed("database") {
		settings.Database, _ = cmd.Flags().GetString("database")
	}
	if cmd.Flags().Changed("warehouse") {
		settings.Warehouse, _ = cmd.Flags().GetString("warehouse")
	}
	if cmd.Flags().Changed("ip") {
		settings.IP, _ = cmd.Flags().GetString("ip")
	}
	if cmd.Flags().Changed("port") {
		settings.Port, _ = cmd.Flags().GetUint16("port")
	}

	if v := os.Getenv("BARRELEYE_S3_ACCESS_KEY_ID"); v != "" {
		settings.S3AccessKeyID = v
	}
	if v := os.Getenv("BARRELEYE_S3_SECRET_ACCESS_KEY"); v != "" {
		settings.S3SecretAccessKey = v
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	prog := progress.New(settings.IsIndexer)
	prog.Show(progress.StepSetup, 0, "")

	cat, err := catalog.NewBoltCatalog(settings.StoragePath)
	if err != nil {
		return &apperr.DatabaseError{Err: err}
	}
	defer cat.Close()

	wh, err := warehouse.NewBoltWarehouse(settings.StoragePath)
	if err != nil {
		return &apperr.WarehouseError{Err: err}
	}
	defer wh.Close()

	bs, err := blobstore.NewBoltBlobStore(settings.StoragePath)
	if err != nil {
		return &apperr.WarehouseError{Err: err}
	}
	defer bs.Close()

	prog.Show(progress.StepMigrations, 0, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		elector = leader.New(cat)
		sched   = scheduler.New(cat, wh, bs, elector)
		prn     = pruner.New(cat, wh)
	)

	schedErrCh := make(chan error, 1)
	if settings.IsIndexer {
		prog.Show(progress.StepNetworks, 0, "")

		go elector.Run(ctx)
		go prn.Run(ctx)
		go func() {
			if err := sched.Run(ctx); err != nil {
				log.WithComponent("scheduler").Error().Err(err).Msg("scheduler stopped")
				schedErrCh <- err
			}
		}()
	}

	var apiErrCh chan error
	if settings.IsServer {
		srv := api.New(cat, wh)
		addr := fmt.Sprintf("%s:%d", settings.IP, settings.Port)
		apiErrCh = make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(addr); err != nil {
				apiErrCh <- err
			}
		}()
	}

	readyAddr := fmt.Sprintf("%s:%d", settings.IP, settings.Port)
	switch {
	case settings.IsIndexer && settings.IsServer:
		prog.Show(progress.StepReady, progress.ReadyAll, readyAddr)
	case settings.IsServer:
		prog.Show(progress.StepReady, progress.ReadyServer, readyAddr)
	default:
		prog.Show(progress.StepReady, progress.ReadyIndexer, "")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-apiErrCh:
		if err != nil {
			log.Errorf("api server error: %v", err)
		}
	case err := <-schedErrCh:
		cancel()
		return err
	}

	cancel()
	return nil
}
