package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/citysim/intersection-core/internal/citymap"
	"github.com/citysim/intersection-core/internal/control"
	"github.com/citysim/intersection-core/internal/intersection"
)

// cliConfig holds every flag/env-bound setting a simhost replica needs.
// loadRunConfig in run.go fills it from the run command's cobra flags,
// overridable by SIMHOST_-prefixed environment variables via viper;
// replay.go and snapshot.go read their own flags directly.
type cliConfig struct {
	RunID      string
	ReplicaID  string
	TickPeriod time.Duration
	ListenAddr string
	JWTSecret  string

	MapConfigPath string

	NATSURL string

	RedisAddr string

	PostgresDSN string

	EtcdEndpoints []string
	ElectionKey   string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func bindViper(v *viper.Viper) {
	v.SetEnvPrefix("SIMHOST")
	v.AutomaticEnv()
}

// mapConfigFile is the on-disk JSON shape of a local, static map + control
// configuration: enough to run a single simhost replica standalone,
// against no external control-plane editor service. The run command
// requires this file (--map-config); it has no flag for pointing at a
// remote control plane.
type mapConfigFile struct {
	Intersections []struct {
		ID               string `json:"id"`
		HasTrafficSignal bool   `json:"has_traffic_signal"`
	} `json:"intersections"`

	Turns []struct {
		Parent    string   `json:"parent"`
		Src       string   `json:"src"`
		Dst       string   `json:"dst"`
		Conflicts []string `json:"conflicts"`
	} `json:"turns"`

	StopSigns []struct {
		Intersection string `json:"intersection"`
		Priorities   []struct {
			Src      string `json:"src"`
			Dst      string `json:"dst"`
			Priority string `json:"priority"`
		} `json:"priorities"`
	} `json:"stop_signs"`

	Signals []struct {
		Intersection string `json:"intersection"`
		Phases       []struct {
			DurationSeconds float64  `json:"duration_seconds"`
			Green           []string `json:"green"`
		} `json:"phases"`
	} `json:"signals"`
}

type turnRef struct{ src, dst string }

// loadMapConfig parses a mapConfigFile into a citymap.CityMap and a
// control.Map ready to hand to simhost.New.
func loadMapConfig(path string) (*citymap.CityMap, *control.Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read map config: %w", err)
	}

	var cfg mapConfigFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse map config: %w", err)
	}

	b := citymap.NewBuilder()
	for _, i := range cfg.Intersections {
		b.AddIntersection(intersection.IntersectionID(i.ID), i.HasTrafficSignal)
	}
	for _, t := range cfg.Turns {
		b.AddTurn(intersection.TurnID{
			Parent: intersection.IntersectionID(t.Parent),
			Src:    intersection.LaneID(t.Src),
			Dst:    intersection.LaneID(t.Dst),
		})
	}
	for _, t := range cfg.Turns {
		self := intersection.TurnID{Parent: intersection.IntersectionID(t.Parent), Src: intersection.LaneID(t.Src), Dst: intersection.LaneID(t.Dst)}
		for _, c := range t.Conflicts {
			ref, err := parseConflictRef(c)
			if err != nil {
				return nil, nil, err
			}
			other := intersection.TurnID{Parent: self.Parent, Src: intersection.LaneID(ref.src), Dst: intersection.LaneID(ref.dst)}
			b.Conflict(self, other)
		}
	}
	cityMap := b.Build()

	ctrl := control.NewMap()
	for _, s := range cfg.StopSigns {
		priorities := make(map[intersection.TurnID]intersection.TurnPriority, len(s.Priorities))
		for _, p := range s.Priorities {
			priority, err := parseTurnPriority(p.Priority)
			if err != nil {
				return nil, nil, err
			}
			priorities[intersection.TurnID{
				Parent: intersection.IntersectionID(s.Intersection),
				Src:    intersection.LaneID(p.Src),
				Dst:    intersection.LaneID(p.Dst),
			}] = priority
		}
		ctrl.SetStopSign(intersection.IntersectionID(s.Intersection), priorities)
	}
	for _, s := range cfg.Signals {
		program := control.NewProgram()
		for _, ph := range s.Phases {
			turns := make([]intersection.TurnID, 0, len(ph.Green))
			for _, g := range ph.Green {
				ref, err := parseConflictRef(g)
				if err != nil {
					return nil, nil, err
				}
				turns = append(turns, intersection.TurnID{
					Parent: intersection.IntersectionID(s.Intersection),
					Src:    intersection.LaneID(ref.src),
					Dst:    intersection.LaneID(ref.dst),
				})
			}
			program.AddPhase(time.Duration(ph.DurationSeconds*float64(time.Second)), turns...)
		}
		ctrl.SetTrafficSignal(intersection.IntersectionID(s.Intersection), program)
	}

	return cityMap, ctrl, nil
}

func parseConflictRef(s string) (turnRef, error) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '-' && s[i+1] == '>' {
			return turnRef{src: s[:i], dst: s[i+2:]}, nil
		}
	}
	return turnRef{}, fmt.Errorf("malformed turn reference %q, want \"src->dst\"", s)
}

func parseTurnPriority(s string) (intersection.TurnPriority, error) {
	var p intersection.TurnPriority
	if err := json.Unmarshal([]byte(`"`+s+`"`), &p); err != nil {
		return 0, fmt.Errorf("unknown turn priority %q: %w", s, err)
	}
	return p, nil
}
