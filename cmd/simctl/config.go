package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/simlink/internal/sim"
)

type fileConfig struct {
	SignalMap   string `toml:"signal_map"`
	Design      string `toml:"design"`
	DesignFile  string `toml:"design_file"`
	ChannelDir  string `toml:"channel_dir"`
	PageSize    int    `toml:"page_size"`
	Encoding    string `toml:"encoding"`
	SpinYield   bool   `toml:"spin_yield"`
	MetricsAddr string `toml:"metrics_addr"`
}

type runConfig struct {
	// SignalMap defaults to "<design>.map" in the working directory.
	SignalMap string
	Design    string
	// DesignFile wins over Design when set.
	DesignFile  string
	MetricsAddr string
	Sim         sim.Config
}

func defaultRunConfig() runConfig {
	return runConfig{
		Design: "toggle",
		Sim:    sim.DefaultConfig(),
	}
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load simctl config: %w", err)
	}

	if meta.IsDefined("signal_map") {
		cfg.SignalMap = strings.TrimSpace(raw.SignalMap)
	}

	if meta.IsDefined("design") {
		if v := strings.TrimSpace(raw.Design); v != "" {
			cfg.Design = v
		}
	}

	if meta.IsDefined("design_file") {
		cfg.DesignFile = strings.TrimSpace(raw.DesignFile)
	}

	if meta.IsDefined("channel_dir") {
		cfg.Sim.Dir = strings.TrimSpace(raw.ChannelDir)
	}

	if meta.IsDefined("page_size") {
		if raw.PageSize < 0 {
			return runConfig{}, fmt.Errorf("parse page_size: negative size %d", raw.PageSize)
		}
		cfg.Sim.PageSize = raw.PageSize
	}

	if meta.IsDefined("encoding") {
		enc, err := sim.ParseEncoding(raw.Encoding)
		if err != nil {
			return runConfig{}, fmt.Errorf("parse encoding: %w", err)
		}
		cfg.Sim.Encoding = enc
	}

	if meta.IsDefined("spin_yield") {
		cfg.Sim.SpinYield = raw.SpinYield
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return cfg, nil
}

func (c runConfig) signalMapPath(designName string) string {
	if c.SignalMap != "" {
		return c.SignalMap
	}
	return designName + ".map"
}
