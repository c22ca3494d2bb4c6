package protocol

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/destination"
	"github.com/datazip-inc/olake-github/destination/singer"
	"github.com/datazip-inc/olake-github/statestore"
	"github.com/datazip-inc/olake-github/telemetry"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// syncCmd emits the selected streams of the catalog as SCHEMA, RECORD and STATE messages
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Olake sync command",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if streamsPath == "" {
			return fmt.Errorf("--catalog not passed")
		}
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, _ []string) (err error) {
		// a failure before the run starts exits with 1
		defer func() {
			if err != nil {
				exitCode = 1
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// request observers take effect on Setup
		metrics := telemetry.New()
		connector.SetObserver(metrics)
		if observed, ok := driver.(RequestObserved); ok {
			observed.SetObserver(metrics)
		}

		if err := connector.Setup(ctx); err != nil {
			return err
		}

		doc := &types.CatalogDocument{}
		if err := utils.UnmarshalFile(streamsPath, doc, false); err != nil {
			return err
		}
		catalog, err := connector.Catalog(doc)
		if err != nil {
			return err
		}

		store, err := statestore.New(ctx, stateStoreConfig(), viper.GetString(constants.StatePath))
		if err != nil {
			return fmt.Errorf("failed to create state store: %s", err)
		}
		defer store.Close()

		state, err := store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state from %s store: %s", store.Type(), err)
		}
		connector.SetupState(state)
		connector.SetStateStore(store)

		emitter, err := destination.NewEmitter(singer.Type, output)
		if err != nil {
			return err
		}
		pool := destination.NewWriterPool(emitter)

		if addr := viper.GetString(constants.MetricsAddr); addr != "" {
			metrics.Serve(addr)
		}

		summary, err := connector.Read(ctx, pool, catalog)
		if err == nil {
			metrics.TrackSyncResult(summary)
		}
		closeErr := utils.ErrExecSequential(
			utils.ErrExecFormat(destination.DestError+": %s", func() error { return pool.Close(ctx) }),
			func() error { return metrics.Shutdown(context.WithoutCancel(ctx)) },
		)
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}

		logger.Info(types.Message{Type: types.SummaryMessage, Summary: summary})
		if !noSave {
			if err := logger.FileLoggerWithPath(summary, viper.GetString(constants.SummaryPath)); err != nil {
				logger.Warnf("failed to store sync summary: %s", err)
			}
		}

		exitCode = summary.ExitCode()
		return nil
	},
}

func stateStoreConfig() *statestore.Config {
	if configured, ok := connector.GetConfigRef().(StateStoreConfigured); ok {
		return configured.StateStoreConfig()
	}
	return nil
}
