// Command fusionctl runs assessments and manages weight mappings from the
// command line, using the same configuration as the service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
