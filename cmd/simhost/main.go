// Command simhost runs (or replays, or inspects) one intersection
// coordination core: the tick loop, its storage/telemetry/cluster
// collaborators, and the HTTP/WS gateway driving-logic workers and
// dashboards talk to.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "simhost",
	Short: "Intersection coordination core service host",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
