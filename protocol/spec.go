package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// specCmd prints the JSON schema of the connector config
var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "spec command",
	RunE: func(_ *cobra.Command, _ []string) error {
		data, err := json.Marshal(connector.Spec())
		if err != nil {
			return fmt.Errorf("failed to marshal spec: %s", err)
		}

		specSchema := map[string]any{}
		if err := json.Unmarshal(data, &specSchema); err != nil {
			return fmt.Errorf("failed to unmarshal spec: %s", err)
		}

		if err := emit(types.Message{Type: types.SpecMessage, Spec: specSchema}); err != nil {
			return err
		}

		if !noSave {
			if err := logger.FileLogger(specSchema, "spec", ".json"); err != nil {
				logger.Warnf("failed to store spec: %s", err)
			}
		}
		return nil
	},
}

// emit writes a protocol message as one JSON line on the output
func emit(message types.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %s", message.Type, err)
	}
	_, err = output.Write(append(data, '\n'))
	return err
}
