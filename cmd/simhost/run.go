package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citysim/intersection-core/internal/cluster"
	"github.com/citysim/intersection-core/internal/gateway"
	"github.com/citysim/intersection-core/internal/simhost"
	"github.com/citysim/intersection-core/internal/snapshot"
	"github.com/citysim/intersection-core/internal/telemetry"
	"github.com/citysim/intersection-core/pkg/messaging"
)

var runViper = viper.New()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simhost replica",
	RunE:  runRun,
}

func init() {
	bindViper(runViper)

	flags := runCmd.Flags()
	flags.String("run-id", "dev", "identifies this simulation run across restarts and snapshots")
	flags.String("replica-id", "", "identifies this replica for leader election; defaults to hostname")
	flags.Duration("tick-period", 100*time.Millisecond, "wall-clock duration of one simulation tick")
	flags.String("listen-addr", ":8080", "HTTP/WS gateway listen address")
	flags.String("jwt-secret", "", "HMAC secret validating operator bearer tokens")
	flags.String("map-config", "", "path to a local map+control JSON config (required)")
	flags.String("nats-url", "", "NATS server URL; omit to run without an event bus")
	flags.String("redis-addr", "", "Redis address for the kinematics cache; omit to run local-only")
	flags.String("postgres-dsn", "", "Postgres DSN for tick snapshots; omit to disable persistence")
	flags.StringSlice("etcd-endpoints", nil, "etcd endpoints for leader election; omit to run without one")
	flags.String("election-key", "simhost/leader", "etcd key this replica's campaign contests")
	flags.String("influx-url", "", "InfluxDB URL; omit to disable telemetry")
	flags.String("influx-token", "", "InfluxDB auth token")
	flags.String("influx-org", "", "InfluxDB organization")
	flags.String("influx-bucket", "", "InfluxDB bucket")

	if err := runViper.BindPFlags(flags); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(runCmd)
}

func loadRunConfig() cliConfig {
	replicaID := runViper.GetString("replica-id")
	if replicaID == "" {
		if host, err := os.Hostname(); err == nil {
			replicaID = host
		}
	}
	return cliConfig{
		RunID:         runViper.GetString("run-id"),
		ReplicaID:     replicaID,
		TickPeriod:    runViper.GetDuration("tick-period"),
		ListenAddr:    runViper.GetString("listen-addr"),
		JWTSecret:     runViper.GetString("jwt-secret"),
		MapConfigPath: runViper.GetString("map-config"),
		NATSURL:       runViper.GetString("nats-url"),
		RedisAddr:     runViper.GetString("redis-addr"),
		PostgresDSN:   runViper.GetString("postgres-dsn"),
		EtcdEndpoints: runViper.GetStringSlice("etcd-endpoints"),
		ElectionKey:   runViper.GetString("election-key"),
		InfluxURL:     runViper.GetString("influx-url"),
		InfluxToken:   runViper.GetString("influx-token"),
		InfluxOrg:     runViper.GetString("influx-org"),
		InfluxBucket:  runViper.GetString("influx-bucket"),
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := loadRunConfig()
	log := logrus.New()

	if cfg.MapConfigPath == "" {
		return fmt.Errorf("--map-config is required")
	}
	cityMap, ctrl, err := loadMapConfig(cfg.MapConfigPath)
	if err != nil {
		return fmt.Errorf("load map config: %w", err)
	}

	host := simhost.New(simhost.Config{
		RunID:      cfg.RunID,
		ReplicaID:  cfg.ReplicaID,
		TickPeriod: cfg.TickPeriod,
		ListenAddr: cfg.ListenAddr,
		RedisAddr:  cfg.RedisAddr,
		GatewayAuth: gateway.Config{
			JWTSecret:       cfg.JWTSecret,
			RateLimitWindow: time.Minute,
			RateLimitMax:    600,
		},
	}, cityMap, ctrl)

	if cfg.PostgresDSN != "" {
		store, err := snapshot.Open(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer store.Close()
		host = host.WithSnapshots(store)

		if rec, state, err := store.Latest(context.Background(), cfg.RunID); err == nil {
			log.WithField("tick", float64(rec.Tick)).Info("resuming from latest snapshot")
			host.Resume(state, rec.Tick)
		}
	}

	if cfg.InfluxURL != "" {
		recorder := telemetry.NewRecorder(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		defer recorder.Close()
		host = host.WithTelemetry(recorder)
	}

	if len(cfg.EtcdEndpoints) > 0 {
		election, err := cluster.Join(cfg.EtcdEndpoints, cfg.ElectionKey)
		if err != nil {
			return fmt.Errorf("join etcd: %w", err)
		}
		defer election.Close()
		host = host.WithElection(election)
	}

	if cfg.NATSURL != "" {
		bus, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "simhost-" + cfg.ReplicaID,
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer bus.Close()
		host = host.WithBus(bus)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"run_id":     cfg.RunID,
		"replica_id": cfg.ReplicaID,
	}).Info("simhost starting")

	if err := host.Run(ctx); err != nil {
		return fmt.Errorf("simhost run: %w", err)
	}
	log.Info("simhost stopped")
	return nil
}
