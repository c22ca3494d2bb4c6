package olake

import (
	"os"

	"github.com/datazip-inc/olake-github/protocol"
	"github.com/datazip-inc/olake-github/utils/logger"
	"github.com/datazip-inc/olake-github/utils/safego"
)

func RegisterDriver(driver protocol.Driver) {
	defer safego.Recovery(true)

	// Execute the root command
	err := protocol.CreateRootCommand(true, driver).Execute()
	if err != nil {
		logger.Fatal(err)
	}

	os.Exit(protocol.ExitCode())
}
