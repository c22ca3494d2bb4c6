package protocol

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// discoverCmd prints the catalog of every stream, none of them selected
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "discover command",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := connector.Setup(cmd.Context()); err != nil {
			return err
		}

		doc, err := connector.Discover(cmd.Context())
		if err != nil {
			return err
		}
		if len(doc.Streams) == 0 {
			return fmt.Errorf("no streams found in connector")
		}

		if !noSave {
			if err := logger.FileLoggerWithPath(doc, viper.GetString(constants.StreamsPath)); err != nil {
				logger.Warnf("failed to store catalog: %s", err)
			}
		}
		return emit(types.Message{Type: types.CatalogMessage, Catalog: doc})
	},
}
