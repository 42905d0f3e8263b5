// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/step"
)

// eventQueueSize bounds the steps waiting to be published. onStep never
// blocks the sample loop; steps beyond this are dropped.
const eventQueueSize = 64

type pendingStep struct {
	sessionID string
	at        time.Time
	source    string
}

// Producer runs the detector over a sample source and publishes steps and
// session summaries to MQTT.
//
// The sample loop is the only goroutine touching the detector. Reset
// requests arriving on the control topic are handed to it over a channel.
type Producer struct {
	cfg    *config.Config
	client mqtt.Client
	logger *slog.Logger

	clock    *step.ManualClock // driven by sample timestamps
	detector *step.Detector
	session  *step.Session

	// Owned by the sample loop.
	sessionID string
	current   imu.AccelSample
	dropped   int

	events   chan pendingStep
	controls chan string
}

// NewProducer builds a Producer from cfg. client must be connected.
func NewProducer(cfg *config.Config, client mqtt.Client, logger *slog.Logger) (*Producer, error) {
	p := &Producer{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		clock:    step.NewManualClock(time.Time{}),
		events:   make(chan pendingStep, eventQueueSize),
		controls: make(chan string, 1),
	}

	d, err := step.NewDetector(p.onStep,
		step.WithThreshold(cfg.StepThreshold),
		step.WithRefractoryInterval(cfg.StepRefractory),
		step.WithMaxHistory(cfg.StepHistory),
		step.WithClock(p.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	p.detector = d

	p.sessionID = uuid.NewString()
	p.session = step.NewSession(p.sessionID, cfg.StrideLengthM, cfg.KcalPerStep, nil)
	return p, nil
}

// onStep runs inline with Detector.Process and only enqueues.
func (p *Producer) onStep() {
	ev := pendingStep{sessionID: p.sessionID, at: p.clock.Now(), source: p.current.Source}
	select {
	case p.events <- ev:
	default:
		p.dropped++
		p.logger.Warn("producer: step queue full, dropping step", "dropped", p.dropped)
	}
}

// Run reads samples from src until ctx is cancelled or the source fails.
// Polled sources (hardware, mock) are read once per interval; interval 0
// reads as fast as src delivers. End of stream returns nil.
func (p *Producer) Run(ctx context.Context, src imu.AccelSource, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := wait(p.client.Subscribe(p.cfg.TopicControl, 1, p.handleControl)); err != nil {
		return fmt.Errorf("producer: subscribe %s: %w", p.cfg.TopicControl, err)
	}
	defer func() {
		if err := wait(p.client.Unsubscribe(p.cfg.TopicControl)); err != nil {
			p.logger.Warn("producer: unsubscribe failed", "topic", p.cfg.TopicControl, "err", err)
		}
	}()
	p.logger.Info("producer: subscribed", "topic", p.cfg.TopicControl)

	p.publishSummary()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.publishLoop(ctx)
	}()

	samples := make(chan imu.AccelSample)
	errc := make(chan error, 1)
	go readSamples(ctx, src, interval, samples, errc)

	p.logger.Info("producer: starting sample loop",
		"session", p.sessionID,
		"threshold", p.detector.Threshold(),
		"refractory", p.detector.RefractoryInterval(),
		"history", p.detector.MaxHistory(),
	)

	err := p.sampleLoop(ctx, samples, errc)

	close(p.events)
	wg.Wait()
	p.publishSummary()
	return err
}

func (p *Producer) sampleLoop(ctx context.Context, samples <-chan imu.AccelSample, errc <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("producer: shutting down")
			return nil

		case err := <-errc:
			if errors.Is(err, io.EOF) {
				p.logger.Info("producer: source exhausted")
				return nil
			}
			return fmt.Errorf("producer: source: %w", err)

		case cmd := <-p.controls:
			switch cmd {
			case CommandReset:
				p.detector.Reset()
				p.sessionID = uuid.NewString()
				p.session.Reset(p.sessionID)
				p.logger.Info("producer: session reset", "session", p.sessionID)
				p.publishSummary()
			case CommandSummary:
				p.publishSummary()
			}

		case s := <-samples:
			if s.Time.IsZero() {
				s.Time = time.Now()
			}
			p.current = s
			p.clock.Set(s.Time)
			p.detector.Process(s.X, s.Y, s.Z)
		}
	}
}

// publishLoop publishes queued steps and periodic summaries until the
// event queue is closed.
func (p *Producer) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SessionSummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			seq, ok := p.session.RecordIn(ev.sessionID, ev.at)
			if !ok {
				// Detected before a reset; belongs to a closed session.
				p.logger.Debug("producer: discarding step from closed session", "session", ev.sessionID)
				continue
			}
			out := StepEvent{SessionID: ev.sessionID, Seq: seq, Time: ev.at, Source: ev.source}
			if err := publishJSON(p.client, p.cfg.TopicStep, 1, false, out); err != nil {
				p.logger.Error("producer: step publish failed", "seq", seq, "err", err)
				continue
			}
			p.logger.Debug("producer: step", "session", ev.sessionID, "seq", seq, "time", ev.at)

		case <-ticker.C:
			if ctx.Err() == nil {
				p.publishSummary()
			}
		}
	}
}

func (p *Producer) publishSummary() {
	sum := p.session.Snapshot()
	if err := publishJSON(p.client, p.cfg.TopicSession, 1, true, sum); err != nil {
		p.logger.Error("producer: summary publish failed", "err", err)
		return
	}
	p.logger.Debug("producer: summary", "session", sum.SessionID, "steps", sum.Steps, "cadence", sum.CadenceSPM)
}

// handleControl runs on the MQTT client goroutine.
func (p *Producer) handleControl(_ mqtt.Client, msg mqtt.Message) {
	var c ControlMessage
	if err := json.Unmarshal(msg.Payload(), &c); err != nil {
		p.logger.Warn("producer: control unmarshal error", "err", err)
		return
	}

	switch c.Command {
	case CommandReset, CommandSummary:
	default:
		p.logger.Warn("producer: unknown control command", "command", c.Command)
		return
	}

	select {
	case p.controls <- c.Command:
	default:
		p.logger.Warn("producer: control command already pending", "command", c.Command)
	}
}

func readSamples(ctx context.Context, src imu.AccelSource, interval time.Duration, out chan<- imu.AccelSample, errc chan<- error) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}

		s, err := src.Next()
		if err != nil {
			errc <- err
			return
		}

		select {
		case out <- s:
		case <-ctx.Done():
			return
		}
	}
}

// RunStepProducer connects to the broker and runs a Producer over src.
func RunStepProducer(ctx context.Context, cfg *config.Config, src imu.AccelSource, interval time.Duration, logger *slog.Logger) error {
	client, err := Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer, logger)
	if err != nil {
		return err
	}
	defer Disconnect(client)

	p, err := NewProducer(cfg, client, logger)
	if err != nil {
		return err
	}
	return p.Run(ctx, src, interval)
}
