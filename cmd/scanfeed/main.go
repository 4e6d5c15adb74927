// Package main is a bench tool that feeds the presence daemon's Redis scan
// lists. It either pushes a recorded JSON-lines file or synthesizes batches
// that contain the configured beacon.
//
// Usage:
//
//	scanfeed -file scans.jsonl
//	scanfeed -interval 2s -count 60
//	scanfeed -status adapter_off
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/beacon-presence/config"
	"github.com/alem-hub/beacon-presence/internal/domain/beacon"
	domainscan "github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/scan"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

type options struct {
	file     string
	interval time.Duration
	count    int
	rssi     int
	status   string
	reason   string
}

func main() {
	var opts options
	flag.StringVar(&opts.file, "file", "", "push a JSON-lines envelope file instead of synthesizing")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "delay between synthesized batches")
	flag.IntVar(&opts.count, "count", 0, "number of synthesized batches (0 runs until interrupted)")
	flag.IntVar(&opts.rssi, "rssi", -60, "RSSI of synthesized advertisements")
	flag.StringVar(&opts.status, "status", "", "push a single scanner status (ready, adapter_off, permission_denied) and exit")
	flag.StringVar(&opts.reason, "reason", "", "reason attached to -status")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "scanfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	target, err := cfg.Beacon.Target()
	if err != nil {
		return err
	}

	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	logOpts.Service = "scanfeed"
	log := logger.New(logOpts)

	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	cache, err := redis.NewCache(rc)
	if err != nil {
		return err
	}
	defer cache.Close()

	switch {
	case opts.status != "":
		return pushStatus(ctx, cache, cfg.Scan.StatusKey, opts)
	case opts.file != "":
		return pushFile(ctx, cache, cfg.Scan, opts.file, log)
	default:
		return synthesize(ctx, cache, cfg.Scan.BatchKey, target, opts, log)
	}
}

func pushStatus(ctx context.Context, cache *redis.Cache, key string, opts options) error {
	kind := domainscan.StatusKind(opts.status)
	if !kind.IsValid() || kind == domainscan.StatusTransportError {
		return fmt.Errorf("unknown status %q", opts.status)
	}
	data, err := json.Marshal(scan.NewWireStatus(kind, opts.reason, time.Now()))
	if err != nil {
		return err
	}
	return cache.LPush(ctx, key, data)
}

// pushFile routes each envelope line to the batch or status list.
func pushFile(ctx context.Context, cache *redis.Cache, c config.ScanConfig, path string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var pushed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := scan.DecodeEnvelope(line)
		if err != nil {
			log.Warn("skipping malformed line", logger.Err(err))
			continue
		}

		var env scan.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return err
		}
		var (
			key  = c.BatchKey
			body any
		)
		if msg.Type == scan.TypeStatus {
			key, body = c.StatusKey, env.Status
		} else {
			body = env.Batch
		}
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		if err := cache.LPush(ctx, key, data); err != nil {
			return err
		}
		pushed++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	log.Info("file pushed", "path", path, "messages", pushed)
	return nil
}

func synthesize(ctx context.Context, cache *redis.Cache, key string, target beacon.TargetIdentity, opts options, log *slog.Logger) error {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	payload := beacon.Encode(target, -59)
	for sent := 0; opts.count == 0 || sent < opts.count; sent++ {
		now := time.Now()
		obs := beacon.NewObservation(beacon.AppleCompanyID, payload, now)
		obs.RSSI = opts.rssi

		data, err := json.Marshal(scan.EncodeBatch(domainscan.Batch{
			ReceivedAt:   now,
			Observations: []beacon.Observation{obs},
		}))
		if err != nil {
			return err
		}
		if err := cache.LPush(ctx, key, data); err != nil {
			return err
		}
		log.Debug("batch pushed", "beacon", target.String(), "n", sent+1)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
