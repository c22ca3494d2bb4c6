package protocol

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/statestore"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// clearCmd drops the bookmarks of the given streams, or of every stream, so that the next sync
// starts them from scratch
var clearCmd = &cobra.Command{
	Use:   "clear-state [streams...]",
	Short: "Olake clear command to reset the bookmarks of selected streams",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		return connector.GetConfigRef().Validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := statestore.New(cmd.Context(), stateStoreConfig(), viper.GetString(constants.StatePath))
		if err != nil {
			return fmt.Errorf("failed to create state store: %s", err)
		}
		defer store.Close()

		state, err := store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load state from %s store: %s", store.Type(), err)
		}
		connector.SetupState(state)
		connector.SetStateStore(store)

		cleared, err := connector.ClearState(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("error clearing state: %w", err)
		}

		logger.Infof("state cleared for %s", utils.Ternary(len(args) == 0, "all streams", strings.Join(args, ", ")))
		logger.LogState(cleared)
		return nil
	},
}
