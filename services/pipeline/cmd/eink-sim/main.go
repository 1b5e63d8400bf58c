// eink-sim runs refresh jobs through the pipeline manager on a simulated
// controller and reports the final frame counters.
//
//	eink-sim -jobs 6,4,3 -backend regs -latency 2ms
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"einkpipe-go/bus"
	"einkpipe-go/errcode"
	"einkpipe-go/logging"
	"einkpipe-go/services/pipeline"
	"einkpipe-go/services/pipeline/config"
	"einkpipe-go/services/pipeline/platform"
	"einkpipe-go/types"
)

type controller interface {
	pipeline.Hardware
	platform.Interrupts
}

func main() {
	jobs := flag.String("jobs", "6,4,3", "comma separated frame counts, one job each")
	backend := flag.String("backend", "sim", "controller backend: sim or regs")
	latency := flag.Duration("latency", 2*time.Millisecond, "decode/transfer completion latency")
	profile := flag.String("profile", "", "panel profile (overrides EINK_PANEL_PROFILE)")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after this long")
	flag.Parse()

	cfg, err := loadConfig(*profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	frames, err := parseJobs(*jobs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New("eink-sim", logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, cfg, log, *backend, *latency, frames); err != nil {
		log.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig reads the environment; a non-empty profile overrides
// EINK_PANEL_PROFILE.
func loadConfig(profile string) (*config.Config, error) {
	if profile != "" {
		if err := os.Setenv("EINK_PANEL_PROFILE", profile); err != nil {
			return nil, fmt.Errorf("set panel profile: %w", err)
		}
	}
	return config.Load()
}

func parseJobs(s string) ([]uint32, error) {
	var out []uint32
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad frame count %q: %w", f, err)
		}
		out = append(out, uint32(n))
	}
	if len(out) == 0 {
		return nil, errors.New("no jobs")
	}
	return out, nil
}

func newController(kind string, maxPipes int, latency time.Duration) (controller, error) {
	switch kind {
	case "sim":
		return platform.NewSimHardware(maxPipes, latency, latency), nil
	case "regs":
		rc := platform.NewRegisterController(latency)
		return rc, rc.Reset()
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, backend string, latency time.Duration, jobs []uint32) error {
	maxPipes, err := cfg.Panel.MaxPipes()
	if err != nil {
		return err
	}
	hw, err := newController(backend, maxPipes, latency)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	b := bus.NewBus(16)
	mgr, err := pipeline.New(cfg, hw, platform.NewHeapMemory(0, 0),
		pipeline.WithLogger(log),
		pipeline.WithBus(b.NewConnection("pipeline")),
		pipeline.WithRegistry(reg))
	if err != nil {
		return err
	}
	defer mgr.Close()
	hw.SetInterrupts(mgr.NotifyDecodeDone, mgr.NotifyTransferDone)

	g, ctx := errgroup.WithContext(ctx)
	mgr.Start(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		err := drive(ctx, mgr, b.NewConnection("sim"), log, jobs)
		if derr := mgr.Disable(); derr != nil {
			log.Warn("disable failed", zap.Error(derr))
		}
		return err
	})

	// drive returning nil is the normal end; it cancels the group so the
	// metrics server stops too.
	err = g.Wait()
	if errors.Is(err, errDone) {
		err = nil
	}
	c := mgr.Frames()
	out, _ := json.Marshal(struct {
		Backend string `json:"backend"`
		Jobs    int    `json:"jobs"`
		Frames  any    `json:"frames"`
		Ring    any    `json:"ring"`
	}{backend, len(jobs), c, mgr.RingStats()})
	fmt.Println(string(out))
	return err
}

var errDone = errors.New("simulation complete")

// drive submits every job, waiting out BatchBusy, until all frames are shown.
func drive(ctx context.Context, mgr *pipeline.Manager, conn *bus.Connection, log *zap.Logger, jobs []uint32) error {
	batches := conn.Subscribe(pipeline.TopicBatch)
	defer conn.Disconnect()

	if err := mgr.Enable(); err != nil {
		return err
	}

	var ids []pipeline.PipeID
	for i, frames := range jobs {
		id, err := mgr.Allocate()
		if err != nil {
			return err
		}
		ids = append(ids, id)
		if err := mgr.Configure(id, types.JobParams{
			Window:      types.UpdateWindow{Right: mgr.Panel().Width - 1, Bottom: mgr.Panel().Height - 1},
			Waveform:    types.WaveformAddr{Phys: 0x2000_0000 + uint64(i)*0x1_0000},
			TotalFrames: frames,
			Mode:        types.ModeGC16,
		}); err != nil {
			return err
		}
		for {
			err := mgr.Activate(id)
			if err == nil {
				break
			}
			if !errors.Is(err, errcode.BatchBusy) {
				return err
			}
			if err := waitFinished(ctx, mgr, batches); err != nil {
				return err
			}
		}
	}
	if err := waitFinished(ctx, mgr, batches); err != nil {
		return err
	}
	for _, id := range ids {
		if err := mgr.Release(id); err != nil {
			return err
		}
	}
	d, x := mgr.TriggerDrops()
	log.Info("simulation finished", zap.Int("jobs", len(jobs)), zap.Uint32("decode_drops", d), zap.Uint32("transfer_drops", x))
	return errDone
}

// waitFinished blocks until the sequencer has no frames left to show. Batch
// messages only wake it; the counters decide.
func waitFinished(ctx context.Context, mgr *pipeline.Manager, sub *bus.Subscription) error {
	for mgr.Frames().InProgress() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Channel():
		}
	}
	return nil
}
