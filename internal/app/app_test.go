package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/sensors"
	"github.com/relabs-tech/step_computer/internal/step"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// startBroker spins up an in-process MQTT broker and returns its URL.
func startBroker(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return "tcp://" + addr
}

func connect(t *testing.T, broker, id string) mqtt.Client {
	t.Helper()
	client, err := Connect(broker, id, discard)
	require.NoError(t, err)
	t.Cleanup(func() { Disconnect(client) })
	return client
}

func testConfig(broker string) *config.Config {
	cfg := config.Default()
	cfg.MQTTBroker = broker
	cfg.SessionSummaryInterval = 50 * time.Millisecond
	return cfg
}

// chanSource delivers whatever the test sends; closing the channel ends
// the stream.
type chanSource chan imu.AccelSample

func (c chanSource) Next() (imu.AccelSample, error) {
	s, ok := <-c
	if !ok {
		return imu.AccelSample{}, io.EOF
	}
	return s, nil
}

func subscribe[T any](t *testing.T, client mqtt.Client, topic string) <-chan T {
	t.Helper()
	ch := make(chan T, 64)
	require.NoError(t, wait(client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err == nil {
			ch <- v
		}
	})))
	return ch
}

func receive[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-timeout:
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestProducerPublishesStepsAndResets(t *testing.T) {
	broker := startBroker(t)
	cfg := testConfig(broker)

	observer := connect(t, broker, "observer")
	steps := subscribe[StepEvent](t, observer, cfg.TopicStep)
	summaries := subscribe[step.Summary](t, observer, cfg.TopicSession)

	p, err := NewProducer(cfg, connect(t, broker, "producer"), discard)
	require.NoError(t, err)

	src := make(chanSource)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, src, 0) }()

	// The first summary marks the control subscription as live.
	first := receive(t, summaries, func(step.Summary) bool { return true })
	require.Zero(t, first.Steps)

	t0 := time.Now().Add(time.Hour)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }
	send := func(startMS int, mags ...float64) {
		for i, m := range mags {
			src <- imu.AccelSample{Source: "test", Time: at(startMS + 50*i), Z: m}
		}
	}

	send(0, 8, 8, 22, 8, 8)
	ev := receive(t, steps, func(StepEvent) bool { return true })
	require.Equal(t, first.SessionID, ev.SessionID)
	require.Equal(t, 1, ev.Seq)
	require.True(t, at(150).Equal(ev.Time), "confirmed by the sample after the peak")
	require.Equal(t, "test", ev.Source)

	// Within the refractory interval: no step.
	send(250, 8, 30, 8)
	receive(t, summaries, func(s step.Summary) bool { return s.SessionID == first.SessionID && s.Steps == 1 })

	pub := connect(t, broker, "controller")
	require.NoError(t, publishJSON(pub, cfg.TopicControl, 1, false, ControlMessage{Command: CommandReset}))
	reset := receive(t, summaries, func(s step.Summary) bool { return s.SessionID != first.SessionID })
	require.Zero(t, reset.Steps)

	// A reset detector is never refractory-blocked by the old session.
	send(450, 8, 30, 8)
	ev = receive(t, steps, func(StepEvent) bool { return true })
	require.Equal(t, reset.SessionID, ev.SessionID)
	require.Equal(t, 1, ev.Seq)
	require.True(t, at(550).Equal(ev.Time))

	cancel()
	close(src)
	require.NoError(t, <-done)
}

func TestProducerStopsAtEndOfStream(t *testing.T) {
	broker := startBroker(t)
	cfg := testConfig(broker)

	p, err := NewProducer(cfg, connect(t, broker, "producer"), discard)
	require.NoError(t, err)

	src := make(chanSource)
	close(src)
	require.NoError(t, p.Run(context.Background(), src, 0))
}

func TestProducerDiscardsStepsFromClosedSession(t *testing.T) {
	broker := startBroker(t)
	cfg := testConfig(broker)

	observer := connect(t, broker, "observer")
	steps := subscribe[StepEvent](t, observer, cfg.TopicStep)

	p, err := NewProducer(cfg, connect(t, broker, "producer"), discard)
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p.events <- pendingStep{sessionID: "closed-session", at: at, source: "test"}
	p.events <- pendingStep{sessionID: p.sessionID, at: at.Add(time.Second), source: "test"}

	src := make(chanSource)
	close(src)
	require.NoError(t, p.Run(context.Background(), src, 0))

	require.Equal(t, 1, p.session.Snapshot().Steps)
	ev := receive(t, steps, func(StepEvent) bool { return true })
	require.Equal(t, p.sessionID, ev.SessionID)
	require.Equal(t, 1, ev.Seq)
	require.True(t, at.Add(time.Second).Equal(ev.Time))
}

func TestProducerDropsStepsWhenQueueIsFull(t *testing.T) {
	p, err := NewProducer(config.Default(), nil, discard)
	require.NoError(t, err)

	for i := 0; i < eventQueueSize+3; i++ {
		p.onStep()
	}
	require.Len(t, p.events, eventQueueSize)
	require.Equal(t, 3, p.dropped)
}

func TestProducerPublishesSummaryOnRequest(t *testing.T) {
	broker := startBroker(t)
	cfg := testConfig(broker)
	cfg.SessionSummaryInterval = time.Hour

	observer := connect(t, broker, "observer")
	summaries := subscribe[step.Summary](t, observer, cfg.TopicSession)

	p, err := NewProducer(cfg, connect(t, broker, "producer"), discard)
	require.NoError(t, err)

	src := make(chanSource)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, src, 0) }()

	first := receive(t, summaries, func(step.Summary) bool { return true })

	pub := connect(t, broker, "controller")
	require.NoError(t, publishJSON(pub, cfg.TopicControl, 1, false, ControlMessage{Command: CommandSummary}))
	again := receive(t, summaries, func(step.Summary) bool { return true })
	require.Equal(t, first.SessionID, again.SessionID, "summary does not start a new session")
	require.Zero(t, again.Steps)

	cancel()
	close(src)
	require.NoError(t, <-done)
}

func TestNewProducerRejectsBadTuning(t *testing.T) {
	cfg := config.Default()
	cfg.StepHistory = 2
	_, err := NewProducer(cfg, nil, discard)
	require.ErrorIs(t, err, step.ErrHistoryTooShort)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestConsolePrintsStepsAndSummaries(t *testing.T) {
	broker := startBroker(t)
	cfg := testConfig(broker)

	var out syncBuffer
	c := NewConsole(cfg, connect(t, broker, "console"), &out, discard)
	require.NoError(t, c.Subscribe())

	pub := connect(t, broker, "publisher")
	at := time.Date(2026, 5, 1, 9, 30, 15, 250_000_000, time.Local)
	require.NoError(t, publishJSON(pub, cfg.TopicStep, 1, false, StepEvent{
		SessionID: "0123456789abcdef", Seq: 7, Time: at, Source: "mock",
	}))
	require.NoError(t, publishJSON(pub, cfg.TopicSession, 1, false, step.Summary{
		SessionID: "0123456789abcdef", Steps: 7, CadenceSPM: 110, DistanceM: 5.5, CaloriesKcal: 0.28,
	}))
	require.NoError(t, wait(pub.Publish(cfg.TopicStep, 1, false, []byte("not json"))))

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "[STEP] session=01234567 #7 at 09:30:15.250 (mock)") &&
			strings.Contains(s, "[SESS] session=01234567 steps=7 cadence=110.0spm distance=5.5m kcal=0.28")
	}, 5*time.Second, 10*time.Millisecond, out.String())

	require.NoError(t, c.Close())
}

func TestReplay(t *testing.T) {
	var b strings.Builder
	b.WriteString("timestamp_ns,accel_x,accel_y,accel_z\n")
	mags := []float64{8, 8, 22, 8, 8, 8, 30, 8}
	for i, m := range mags {
		// Samples 50 ms apart, the last three after a 400 ms pause.
		ms := 50 * i
		if i >= 5 {
			ms += 400
		}
		b.WriteString(strings.Join([]string{
			strconv.FormatInt(int64(ms)*int64(time.Millisecond), 10), "0", "0", strconv.FormatFloat(m, 'f', -1, 64),
		}, ",") + "\n")
	}

	src, err := sensors.NewCSVReplaySource(strings.NewReader(b.String()))
	require.NoError(t, err)

	got, err := Replay(src)
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		time.Unix(0, int64(150*time.Millisecond)).UTC(),
		time.Unix(0, int64(750*time.Millisecond)).UTC(),
	}, got)

	src, err = sensors.NewCSVReplaySource(strings.NewReader(b.String()))
	require.NoError(t, err)
	got, err = Replay(src, step.WithThreshold(25))
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = Replay(src, step.WithMaxHistory(1))
	require.ErrorIs(t, err, step.ErrHistoryTooShort)
}

func TestOpenMockSource(t *testing.T) {
	cfg := config.Default()
	src, interval, closeFn, err := OpenSource(cfg, discard)
	require.NoError(t, err)
	require.Equal(t, cfg.SampleInterval, interval)
	s, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, "mock", s.Source)
	require.NoError(t, closeFn())

	cfg.Source = "carrier-pigeon"
	_, _, _, err = OpenSource(cfg, discard)
	require.ErrorIs(t, err, config.ErrInvalid)
}
