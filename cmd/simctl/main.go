package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/danmuck/simlink/internal/backend/regsim"
	"github.com/danmuck/simlink/internal/logging"
	"github.com/danmuck/simlink/internal/observability"
	"github.com/danmuck/simlink/internal/registry"
	"github.com/danmuck/simlink/internal/sim"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	logging.ConfigureRuntime()

	fs := flag.NewFlagSet("simctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file")
	mapPath := fs.String("map", "", "signal map file, overrides signal_map")
	designName := fs.String("design", "", "builtin design name, overrides design")
	emitMap := fs.String("emit-map", "", "write the design's signal map to this file (- for stdout) and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg := defaultRunConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadRunConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
			return 1
		}
	}
	if *mapPath != "" {
		cfg.SignalMap = *mapPath
	}
	if *designName != "" {
		cfg.Design = *designName
		cfg.DesignFile = ""
	}

	circuit, err := openCircuit(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
		return 1
	}
	if *emitMap != "" {
		if err := emitSignalMap(circuit, *emitMap, stdout); err != nil {
			fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
			return 1
		}
		return 0
	}

	reg, err := buildRegistry(cfg, circuit)
	if err != nil {
		logging.Errf("simctl.run err=%v", err)
		circuit.Finish()
		return sim.ExitAbnormal
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr)
	}

	d, err := sim.New(cfg.Sim, reg, circuit)
	if err != nil {
		logging.Errf("simctl.run start dispatcher err=%v", err)
		circuit.Finish()
		return 1
	}
	defer d.Close()

	err = d.Run()
	if err != nil {
		logging.Errf("simctl.run dispatcher stopped err=%v", err)
	}
	if cerr := circuit.Err(); cerr != nil {
		logging.Warnf("simctl.run design=%q last evaluation error=%v", circuit.Design().Name, cerr)
	}
	logging.Infof("simctl.run done design=%q cycles=%d", circuit.Design().Name, circuit.Cycles())
	return sim.ExitCode(err)
}

func openCircuit(cfg runConfig) (*regsim.Circuit, error) {
	var (
		d   regsim.Design
		err error
	)
	if cfg.DesignFile != "" {
		d, err = regsim.LoadDesign(cfg.DesignFile)
	} else {
		d, err = regsim.Builtin(cfg.Design)
	}
	if err != nil {
		return nil, err
	}
	return regsim.New(d)
}

func emitSignalMap(c *regsim.Circuit, path string, stdout io.Writer) error {
	if path == "-" {
		return c.WriteSignalMap(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create signal map: %w", err)
	}
	if err := c.WriteSignalMap(f); err != nil {
		f.Close()
		return fmt.Errorf("write signal map: %w", err)
	}
	return f.Close()
}

func buildRegistry(cfg runConfig, c *regsim.Circuit) (*registry.Registry[*regsim.Signal], error) {
	idx, err := registry.LoadFile(cfg.signalMapPath(c.Design().Name))
	if err != nil {
		return nil, err
	}
	b := registry.NewBuilder[*regsim.Signal](idx)
	if err := c.Bind(b); err != nil {
		return nil, err
	}
	reg := b.Build()
	for _, list := range [][]*regsim.Signal{reg.Resets(), reg.Inputs(), reg.Outputs()} {
		for _, s := range list {
			logSignal(s)
		}
	}
	for _, name := range reg.Clocks() {
		if s, ok := reg.Clock(name); ok {
			logSignal(s)
		}
	}
	logging.Debugf("simctl.buildRegistry signals=%d inputs=%d outputs=%d clocks=%v",
		reg.Len(), len(reg.Inputs()), len(reg.Outputs()), reg.Clocks())
	return reg, nil
}

func logSignal(s *regsim.Signal) {
	logging.Debugf("simctl.buildRegistry kind=%s path=%q name=%q width=%d id=%d chunk=%d",
		s.Kind(), s.Path(), s.Name(), s.Width(), s.ID(), s.Chunk())
}

func serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: observability.Handler(*logging.Logger())}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warnf("simctl.metrics addr=%q err=%v", addr, err)
		}
	}()
	logging.Infof("simctl.metrics listening addr=%q", addr)
}
