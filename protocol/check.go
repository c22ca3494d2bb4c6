package protocol

import (
	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// checkCmd validates the config and the credentials against the API
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check command",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := connector.Setup(cmd.Context())
		if err == nil {
			err = connector.Check(cmd.Context())
		}

		message := types.Message{
			Type: types.ConnectionStatusMessage,
			ConnectionStatus: &types.StatusRow{
				Status: types.ConnectionSucceed,
			},
		}
		if err != nil {
			message.ConnectionStatus.Message = err.Error()
			message.ConnectionStatus.Status = types.ConnectionFailed
			exitCode = 1
		}
		logger.Info(message)
		return emit(message)
	},
}
