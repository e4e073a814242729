package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/centraunit/dedicated/internal/config"
)

// Setup creates the probe logger. Every entry carries the configured
// component. With Loki enabled, entries are also pushed to one stream per
// component, level and channel.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	var pusher entryPusher
	cleanup := func() {}
	if cfg.Loki.Enabled {
		client, err := newLokiClient(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		pusher, cleanup = client, client.Stop
	}
	logger, err := build(cfg, os.Stdout, pusher)
	if err != nil {
		cleanup()
		return zerolog.Logger{}, nil, err
	}
	return logger, cleanup, nil
}

// entryPusher is the part of *loki.Client the stream writer needs.
type entryPusher interface {
	Handle(labels model.LabelSet, t time.Time, entry string) error
}

func build(cfg config.LoggingConfig, out io.Writer, pusher entryPusher) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	var w io.Writer = out
	if strings.EqualFold(cfg.Format, "text") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if pusher != nil {
		w = zerolog.MultiLevelWriter(w, &streamWriter{
			pusher: pusher,
			base:   baseLabels(cfg),
		})
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger().Level(level), nil
}

func newLokiClient(cfg config.LokiConfig) (*loki.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, fmt.Errorf("create loki client: %w", err)
	}
	return client, nil
}

func baseLabels(cfg config.LoggingConfig) model.LabelSet {
	labels := model.LabelSet{}
	for k, v := range cfg.Loki.Labels {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if cfg.Component != "" {
		labels["component"] = model.LabelValue(cfg.Component)
	}
	return labels
}

// streamWriter pushes zerolog JSON entries to Loki, promoting the level and
// channel fields to stream labels so each channel can be queried on its own.
type streamWriter struct {
	pusher entryPusher
	base   model.LabelSet
}

type entryFields struct {
	Level   string `json:"level"`
	Channel string `json:"channel"`
}

func (s *streamWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	var fields entryFields
	// Entries that are not JSON still ship, under the base labels.
	_ = json.Unmarshal(p, &fields)

	labels := s.base.Clone()
	if fields.Level != "" {
		labels["level"] = model.LabelValue(fields.Level)
	}
	if fields.Channel != "" {
		labels["channel"] = model.LabelValue(fields.Channel)
	}
	return len(p), s.pusher.Handle(labels, time.Now(), entry)
}
