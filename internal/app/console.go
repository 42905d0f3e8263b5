// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/step"
)

// Console prints step events and session summaries as they arrive.
type Console struct {
	cfg    *config.Config
	client mqtt.Client
	logger *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewConsole returns a Console printing to out. client must be connected.
func NewConsole(cfg *config.Config, client mqtt.Client, out io.Writer, logger *slog.Logger) *Console {
	return &Console{cfg: cfg, client: client, out: out, logger: logger}
}

// Subscribe starts printing. Messages are delivered on the MQTT client
// goroutine.
func (c *Console) Subscribe() error {
	if err := wait(c.client.Subscribe(c.cfg.TopicStep, 1, c.handleStep)); err != nil {
		return fmt.Errorf("console: subscribe %s: %w", c.cfg.TopicStep, err)
	}
	c.logger.Info("console: subscribed", "topic", c.cfg.TopicStep)

	if err := wait(c.client.Subscribe(c.cfg.TopicSession, 1, c.handleSummary)); err != nil {
		return fmt.Errorf("console: subscribe %s: %w", c.cfg.TopicSession, err)
	}
	c.logger.Info("console: subscribed", "topic", c.cfg.TopicSession)
	return nil
}

// Close unsubscribes from both topics.
func (c *Console) Close() error {
	return wait(c.client.Unsubscribe(c.cfg.TopicStep, c.cfg.TopicSession))
}

func (c *Console) handleStep(_ mqtt.Client, msg mqtt.Message) {
	var ev StepEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		c.logger.Warn("console: step unmarshal error", "err", err)
		return
	}
	c.printf("[STEP] session=%s #%d at %s (%s)\n",
		shortID(ev.SessionID), ev.Seq, ev.Time.Format("15:04:05.000"), ev.Source)
}

func (c *Console) handleSummary(_ mqtt.Client, msg mqtt.Message) {
	var s step.Summary
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		c.logger.Warn("console: summary unmarshal error", "err", err)
		return
	}
	c.printf("[SESS] session=%s steps=%d cadence=%.1fspm distance=%.1fm kcal=%.2f since=%s\n",
		shortID(s.SessionID), s.Steps, s.CadenceSPM, s.DistanceM, s.CaloriesKcal, s.StartedAt.Format(time.TimeOnly))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunStepConsole connects to the broker and prints until ctx is cancelled.
func RunStepConsole(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) error {
	client, err := Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	defer Disconnect(client)

	c := NewConsole(cfg, client, out, logger)
	if err := c.Subscribe(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("console: shutting down")
	return c.Close()
}
