package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harunnryd/kagami/internal/config"
	"github.com/harunnryd/kagami/internal/vision"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// newOrchestrator builds a one-shot orchestrator for CLI commands that do
// not go through the daemon.
func newOrchestrator(ctx context.Context, cfg *config.Config) (*vision.Orchestrator, error) {
	failoverCfg, err := vision.FailoverConfigFrom(cfg.Failover)
	if err != nil {
		return nil, fmt.Errorf("failover config: %w", err)
	}

	adapters, err := vision.BuildAdapters(ctx, cfg.Providers, cfg.Failover.ErrorThresholds)
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}

	return vision.NewOrchestrator(failoverCfg, adapters)
}

func readImageFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	r := io.Reader(f)
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	image, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if limit > 0 && int64(len(image)) > limit {
		return nil, fmt.Errorf("image %s exceeds %d bytes", path, limit)
	}
	return image, nil
}

func encodeOutput(v any, format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// writeOutput prints to w, or replaces path atomically when one is given.
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
