// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Source kinds.
const (
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
	SourceMock    = "mock"
)

// Config holds all application configuration values. Each field can be set
// in the config file under its KEY; the environment variable named in its
// env tag overrides the file.
type Config struct {
	// MQTT
	MQTTBroker           string `env:"STEP_MQTT_BROKER"`
	MQTTClientIDProducer string `env:"STEP_MQTT_CLIENT_ID_PRODUCER"`
	MQTTClientIDConsole  string `env:"STEP_MQTT_CLIENT_ID_CONSOLE"`

	// Topics
	TopicStep    string `env:"STEP_TOPIC_STEP"`
	TopicSession string `env:"STEP_TOPIC_SESSION"`
	TopicControl string `env:"STEP_TOPIC_CONTROL"`

	// Sample source: "mpu9250", "serial" or "mock"
	Source string `env:"STEP_SOURCE"`

	// IMU Hardware
	IMUSPIDevice string `env:"STEP_IMU_SPI_DEVICE"`
	IMUCSPin     string `env:"STEP_IMU_CS_PIN"`
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte `env:"STEP_IMU_ACCEL_RANGE"`

	// Serial
	SerialPort     string `env:"STEP_SERIAL_PORT"`
	SerialBaudRate uint   `env:"STEP_SERIAL_BAUD_RATE"`

	// Mock walker
	MockCadenceHz float64 `env:"STEP_MOCK_CADENCE_HZ"`
	MockAmplitude float64 `env:"STEP_MOCK_AMPLITUDE"` // m/s²

	// Timing
	SampleInterval         time.Duration `env:"STEP_SAMPLE_INTERVAL"`
	SessionSummaryInterval time.Duration `env:"STEP_SESSION_SUMMARY_INTERVAL"`

	// Detector
	StepThreshold  float64       `env:"STEP_THRESHOLD"` // m/s², gravity included
	StepRefractory time.Duration `env:"STEP_REFRACTORY"`
	StepHistory    int           `env:"STEP_HISTORY"`

	// Session estimates
	StrideLengthM float64 `env:"STEP_STRIDE_LENGTH_M"`
	KcalPerStep   float64 `env:"STEP_KCAL_PER_STEP"`

	// Logging: debug, info, warn, error
	LogLevel string `env:"STEP_LOG_LEVEL"`
}

// Default returns the reference configuration: a mock walker publishing to a
// local broker with the detector's standard tuning.
func Default() *Config {
	return &Config{
		MQTTBroker:             "tcp://localhost:1883",
		MQTTClientIDProducer:   "step-producer",
		MQTTClientIDConsole:    "step-console",
		TopicStep:              "fitness/step",
		TopicSession:           "fitness/session",
		TopicControl:           "fitness/control",
		Source:                 SourceMock,
		IMUSPIDevice:           "/dev/spidev0.0",
		IMUCSPin:               "8",
		IMUAccelRange:          1,
		SerialPort:             "/dev/ttyUSB0",
		SerialBaudRate:         115200,
		MockCadenceHz:          1.8,
		MockAmplitude:          9,
		SampleInterval:         20 * time.Millisecond,
		SessionSummaryInterval: 5 * time.Second,
		StepThreshold:          15,
		StepRefractory:         300 * time.Millisecond,
		StepHistory:            5,
		StrideLengthM:          0.75,
		KcalPerStep:            0.04,
		LogLevel:               "info",
	}
}

// Load reads the configuration file on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays STEP_* environment variables onto target. Unset
// variables leave fields untouched.
func ParseEnv(target *Config) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) loadFile(configPath string) error {
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		if err := c.setValue(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error

	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_STEP":
		c.TopicStep = value
	case "TOPIC_SESSION":
		c.TopicSession = value
	case "TOPIC_CONTROL":
		c.TopicControl = value

	case "SOURCE":
		c.Source = strings.ToLower(value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = uint(rate)

	// Mock walker
	case "MOCK_CADENCE_HZ":
		c.MockCadenceHz, err = parseFloat(key, value)
	case "MOCK_AMPLITUDE":
		c.MockAmplitude, err = parseFloat(key, value)

	// Timing, in milliseconds
	case "SAMPLE_INTERVAL":
		c.SampleInterval, err = parseMillis(key, value)
	case "SESSION_SUMMARY_INTERVAL":
		c.SessionSummaryInterval, err = parseMillis(key, value)

	// Detector
	case "STEP_THRESHOLD":
		c.StepThreshold, err = parseFloat(key, value)
	case "STEP_REFRACTORY_MS":
		c.StepRefractory, err = parseMillis(key, value)
	case "STEP_HISTORY":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid STEP_HISTORY %q: %w", value, err)
		}
		c.StepHistory = n

	// Session estimates
	case "STRIDE_LENGTH_M":
		c.StrideLengthM, err = parseFloat(key, value)
	case "KCAL_PER_STEP":
		c.KcalPerStep, err = parseFloat(key, value)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseMillis(key, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Validate checks that required fields are set and values are usable.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if c.MQTTBroker == "" {
		return invalid("MQTT_BROKER is required")
	}
	if c.TopicStep == "" || c.TopicSession == "" || c.TopicControl == "" {
		return invalid("TOPIC_STEP, TOPIC_SESSION and TOPIC_CONTROL are required")
	}

	switch c.Source {
	case SourceMPU9250:
		if c.IMUSPIDevice == "" || c.IMUCSPin == "" {
			return invalid("IMU_SPI_DEVICE and IMU_CS_PIN are required for source %q", c.Source)
		}
		if c.IMUAccelRange > 3 {
			return invalid("IMU_ACCEL_RANGE must be 0-3, got %d", c.IMUAccelRange)
		}
	case SourceSerial:
		if c.SerialPort == "" || c.SerialBaudRate == 0 {
			return invalid("SERIAL_PORT and SERIAL_BAUD_RATE are required for source %q", c.Source)
		}
	case SourceMock:
		if c.MockCadenceHz <= 0 {
			return invalid("MOCK_CADENCE_HZ must be positive, got %v", c.MockCadenceHz)
		}
	default:
		return invalid("unknown SOURCE %q", c.Source)
	}

	if c.SampleInterval <= 0 {
		return invalid("SAMPLE_INTERVAL must be positive")
	}
	if c.SessionSummaryInterval <= 0 {
		return invalid("SESSION_SUMMARY_INTERVAL must be positive")
	}
	if c.StepThreshold <= 0 {
		return invalid("STEP_THRESHOLD must be positive, got %v", c.StepThreshold)
	}
	if c.StepRefractory < 0 {
		return invalid("STEP_REFRACTORY_MS must not be negative")
	}
	if c.StepHistory < 3 {
		return invalid("STEP_HISTORY must be at least 3, got %d", c.StepHistory)
	}
	if c.StrideLengthM < 0 || c.KcalPerStep < 0 {
		return invalid("STRIDE_LENGTH_M and KCAL_PER_STEP must not be negative")
	}
	return nil
}
