package protocol

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/drivers/abstract"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/logger"
)

const notSet = "not-set"

var (
	configPath    string
	statePath     string
	streamsPath   string
	noSave        bool
	encryptionKey string
	metricsAddr   string

	// stdout carries the message stream of every command
	output io.Writer = os.Stdout

	exitCode  int
	commands  = []*cobra.Command{}
	driver    Driver
	connector *abstract.AbstractDriver
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:           "olake-github",
	Short:         "GitHub source connector",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// set global variables
		configFolder := os.TempDir()
		if configPath != notSet {
			configFolder = filepath.Dir(configPath)
		}
		viper.Set(constants.ConfigFolder, utils.Ternary(noSave, "", configFolder))
		viper.Set(constants.StatePath, utils.Ternary(statePath == "", filepath.Join(configFolder, constants.StateFileName), statePath))
		viper.Set(constants.StreamsPath, utils.Ternary(streamsPath == "", filepath.Join(configFolder, constants.StreamsFileName), streamsPath))
		if !viper.IsSet(constants.SummaryPath) {
			viper.Set(constants.SummaryPath, filepath.Join(configFolder, constants.SummaryFileName))
		}

		if encryptionKey != "" {
			viper.Set(constants.EncryptionKey, encryptionKey)
		}
		if metricsAddr != "" {
			viper.Set(constants.MetricsAddr, metricsAddr)
		}

		// logger uses CONFIG_FOLDER
		logger.Init()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}

		if ok := utils.IsValidSubcommand(commandNames(), args[0]); !ok {
			return fmt.Errorf("'%s' is an invalid command. Use 'olake-github --help' to display usage guide", args[0])
		}
		return nil
	},
}

func CreateRootCommand(_ bool, source Driver) *cobra.Command {
	driver = source
	connector = abstract.NewAbstractDriver(RootCmd.Context(), source)
	exitCode = 0
	return RootCmd
}

// ExitCode is the process exit status of the last command: 0 on success, 1 when the command
// failed and 2 when a sync finished with failed streams
func ExitCode() int {
	return exitCode
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name())
	}
	return names
}

// loadConfig reads the connector config, decrypting it when an encryption key is set
func loadConfig() error {
	if configPath == notSet || configPath == "" {
		return fmt.Errorf("--config not passed")
	}
	return utils.UnmarshalFile(configPath, connector.GetConfigRef(), true)
}

func init() {
	commands = append(commands, specCmd, checkCmd, discoverCmd, syncCmd, clearCmd)
	RootCmd.AddCommand(commands...)

	viper.SetEnvPrefix(constants.EnvPrefix)
	viper.AutomaticEnv()

	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "", notSet, "(Required) Config for connector")
	RootCmd.PersistentFlags().StringVarP(&streamsPath, "catalog", "", "", "Path to the streams file for the connector")
	RootCmd.PersistentFlags().StringVarP(&streamsPath, "streams", "", "", "Path to the streams file for the connector")
	RootCmd.PersistentFlags().StringVarP(&statePath, "state", "", "", "(Optional) State file for connector")
	RootCmd.PersistentFlags().BoolVarP(&noSave, "no-save", "", false, "(Optional) Flag to skip logging artifacts in file")
	RootCmd.PersistentFlags().StringVarP(&encryptionKey, "encryption-key", "", "", "(Optional) Decryption key. Provide the ARN of a KMS key, a UUID, or a custom string based on your encryption configuration.")
	RootCmd.PersistentFlags().StringVarP(&metricsAddr, "metrics-addr", "", "", "(Optional) Address serving prometheus metrics during a sync, e.g. :9090")
}
