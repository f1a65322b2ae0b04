// Command uvtwin simulates a vehicle driving laps around a synthetic circuit
// and streams its telemetry to logs, databases and brokers.
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
