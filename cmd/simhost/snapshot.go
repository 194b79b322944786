package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citysim/intersection-core/internal/intersection"
	"github.com/citysim/intersection-core/internal/snapshot"
)

var snapshotViper = viper.New()

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the latest persisted snapshot for a run",
	RunE:  runSnapshot,
}

func init() {
	bindViper(snapshotViper)

	flags := snapshotCmd.Flags()
	flags.String("run-id", "dev", "run to inspect")
	flags.String("postgres-dsn", "", "Postgres DSN holding the run's snapshots")
	flags.Float64("tick", -1, "inspect a specific tick instead of the latest")

	if err := snapshotViper.BindPFlags(flags); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	runID := snapshotViper.GetString("run-id")
	dsn := snapshotViper.GetString("postgres-dsn")
	tick := snapshotViper.GetFloat64("tick")
	if dsn == "" {
		return fmt.Errorf("--postgres-dsn is required")
	}

	store, err := snapshot.Open(dsn)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if tick >= 0 {
		state, err := store.At(ctx, runID, intersection.Tick(tick))
		if err != nil {
			return fmt.Errorf("load tick %v: %w", tick, err)
		}
		return enc.Encode(state)
	}

	_, state, err := store.Latest(ctx, runID)
	if err != nil {
		return fmt.Errorf("load latest: %w", err)
	}
	return enc.Encode(state)
}
