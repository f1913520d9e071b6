// Command bulkops runs bulk store operations and rollbacks.
package main

import (
	"os"

	"github.com/storeops/bulkops/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
