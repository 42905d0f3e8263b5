// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// quiesce is how long Disconnect waits for in-flight work, in ms.
	quiesce = 250
)

var errTimeout = errors.New("timed out")

// Connect opens an MQTT connection to broker with the given client ID.
func Connect(broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt: connection lost", "client", clientID, "err", err)
		})

	client := mqtt.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, err)
	}
	logger.Info("mqtt: connected", "broker", broker, "client", clientID)
	return client, nil
}

// Disconnect closes client after letting in-flight messages settle.
func Disconnect(client mqtt.Client) {
	client.Disconnect(quiesce)
}

func publishJSON(client mqtt.Client, topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", topic, err)
	}
	if err := wait(client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("MQTT publish (%s): %w", topic, err)
	}
	return nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return errTimeout
	}
	return token.Error()
}
