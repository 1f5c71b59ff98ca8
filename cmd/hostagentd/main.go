// hostagentd is the host-resident agent daemon. It listens on a TCP
// address and executes system-management commands (process execution,
// package and service management, telemetry) submitted over the agent
// protocol.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
