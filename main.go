package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/ericogr/plant-autocal/pkg/api"
	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/config"
	"github.com/ericogr/plant-autocal/pkg/engine"
	"github.com/ericogr/plant-autocal/pkg/metrics"
	"github.com/ericogr/plant-autocal/pkg/output"
	"github.com/ericogr/plant-autocal/pkg/output/console"
	mqttout "github.com/ericogr/plant-autocal/pkg/output/mqtt"
	"github.com/ericogr/plant-autocal/pkg/sensor"
	"github.com/ericogr/plant-autocal/pkg/store"
)

type outputEntry struct {
	Name       string
	Out        output.Output
	IntervalMs int
}

// commandSource is an output that also accepts operator commands.
type commandSource interface {
	HandleCommands(func(key string, payload []byte) []byte) error
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	sampler, err := newSampler(cfg)
	if err != nil {
		log.Fatalf("sensor: %v", err)
	}
	defer sampler.Close()

	kv, err := openKV(cfg.StorePath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	st := store.New(kv)
	defer st.Close()

	rec := metrics.New()
	readTimeout := cfg.ReadTimeoutMs
	if floor := 2 * computeSensorInterval(cfg); readTimeout < floor {
		readTimeout = floor
	}
	eng := engine.New(st, sampler, engine.Options{
		ReadTimeout: time.Duration(readTimeout) * time.Millisecond,
		Observer:    rec,
	})
	if err := provision(cfg, st, eng, sampler.FullScale(), time.Now()); err != nil {
		log.Fatalf("provision: %v", err)
	}

	entries, err := initOutputs(&cfg, cfg.IntervalMs)
	if err != nil {
		log.Fatalf("outputs: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, e := range entries {
		if src, ok := e.Out.(commandSource); ok {
			err := src.HandleCommands(func(key string, payload []byte) []byte {
				return eng.HandleCommand(ctx, key, payload)
			})
			if err != nil {
				log.Printf("%s commands: %v", e.Name, err)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			log.Printf("engine: %v", err)
		}
	}()
	for _, e := range entries {
		wg.Add(1)
		go func(e outputEntry) {
			defer wg.Done()
			publishLoop(ctx, e, eng)
		}(e)
	}

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.New(eng, rec.Handler()).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http: %v", err)
			}
		}()
		log.Printf("http api listening on %s", cfg.HTTPAddr)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify: %v", err)
	} else if ok {
		log.Println("notified systemd")
	}
	log.Printf("running with %d measurement(s), outputs=%d", len(st.Keys()), len(entries))

	<-ctx.Done()
	log.Println("shutting down")
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		cancel()
	}
	wg.Wait()
	for _, e := range entries {
		if err := e.Out.Close(); err != nil {
			log.Printf("%s close: %v", e.Name, err)
		}
	}
}

func newSampler(cfg config.Config) (sensor.Sampler, error) {
	if strings.ToLower(cfg.SensorType) == "simulation" {
		log.Println("using simulated sensor")
		return sensor.NewFakeSensor(cfg)
	}
	return sensor.NewADS1115Sensor(cfg)
}

// openKV opens the bbolt file, or keeps state in memory when no path is set.
func openKV(path string) (store.KV, error) {
	if path == "" {
		log.Println("store: no path configured, calibration will not survive restart")
		return store.NewMemory(), nil
	}
	return store.OpenBolt(path)
}

// provision registers every enabled channel. Persistence faults are logged and
// tolerated; the measurement keeps running on its in-memory state.
func provision(cfg config.Config, st *store.Store, eng *engine.Engine, adcMax int, now time.Time) error {
	policy, err := calibration.ParsePolicy(cfg.AutocalPolicy)
	if err != nil {
		return err
	}
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		m, err := ch.Measurement(adcMax, policy, now)
		if err != nil {
			return fmt.Errorf("channel %d: %w", ch.Channel, err)
		}
		if _, err := st.Provision(m); err != nil {
			if !errors.Is(err, calibration.ErrPersistence) {
				return err
			}
			log.Printf("provision %s: %v", m.Key, err)
		}
		if err := eng.Register(m.Key, ch.Channel); err != nil {
			return err
		}
	}
	return nil
}

// computeSensorInterval estimates in ms how long one pass over all enabled
// channels takes on the converter.
func computeSensorInterval(cfg config.Config) int {
	delay := func(rate int) int {
		if rate <= 0 {
			rate = cfg.SampleRate
		}
		if rate <= 0 {
			rate = 128
		}
		return (1000+rate-1)/rate + 2
	}
	total := 0
	for _, ch := range cfg.Channels {
		if ch.Enabled {
			total += delay(ch.SampleRate)
		}
	}
	if total == 0 {
		return delay(cfg.SampleRate)
	}
	return total
}

func initOutputs(cfg *config.Config, defaultInterval int) ([]outputEntry, error) {
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if o.IntervalMs <= 0 {
			o.IntervalMs = defaultInterval
		}
		switch strings.ToLower(o.Type) {
		case "console":
			entries = append(entries, outputEntry{Name: "console", Out: console.NewConsole(), IntervalMs: o.IntervalMs})
		case "mqtt":
			mc := config.MQTTConfig{}
			if o.MQTT != nil {
				mc = *o.MQTT
			}
			m, err := mqttout.NewMQTT(mc)
			if err != nil {
				return entries, err
			}
			entries = append(entries, outputEntry{Name: "mqtt", Out: m, IntervalMs: o.IntervalMs})
		default:
			return entries, fmt.Errorf("unknown output %q", o.Type)
		}
	}
	return entries, nil
}

func publishLoop(ctx context.Context, e outputEntry, eng *engine.Engine) {
	interval := time.Duration(e.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Out.Publish(eng.Snapshots()); err != nil {
				log.Printf("%s publish: %v", e.Name, err)
			}
		}
	}
}
