package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citysim/intersection-core/internal/snapshot"
)

var replayViper = viper.New()

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print a persisted run's snapshots in tick order",
	RunE:  runReplay,
}

func init() {
	bindViper(replayViper)

	flags := replayCmd.Flags()
	flags.String("run-id", "dev", "run whose ticks to replay")
	flags.String("postgres-dsn", "", "Postgres DSN holding the run's snapshots")

	if err := replayViper.BindPFlags(flags); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	runID := replayViper.GetString("run-id")
	dsn := replayViper.GetString("postgres-dsn")
	if dsn == "" {
		return fmt.Errorf("--postgres-dsn is required")
	}

	store, err := snapshot.Open(dsn)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	ticks, err := store.Ticks(ctx, runID)
	if err != nil {
		return fmt.Errorf("list ticks: %w", err)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("no snapshots recorded for run %q", runID)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, tick := range ticks {
		state, err := store.At(ctx, runID, tick)
		if err != nil {
			return fmt.Errorf("load tick %v: %w", tick, err)
		}
		if err := enc.Encode(struct {
			Tick  float64     `json:"tick"`
			State interface{} `json:"state"`
		}{Tick: float64(tick), State: state}); err != nil {
			return fmt.Errorf("encode tick %v: %w", tick, err)
		}
	}
	return nil
}
