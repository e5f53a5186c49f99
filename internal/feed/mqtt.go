/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MHPBC project.
 *
 * MHPBC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package feed

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/logger"
	"github.com/antst/mhpbc/internal/safe_mqtt"
)

const (
	mqttQoS        = 1
	watchBuffer    = 64
	publishTimeout = 5 * time.Second
	subscribeWait  = 10 * time.Second
)

// MQTT maps feed paths onto MQTT topics. Commands are published retained with QoS 1.
type MQTT struct {
	cfg    *config.MQTTConfig
	client safe_mqtt.MqttClient
	last   lastWritten
}

func NewMQTT(ctx context.Context, _cfg *config.MQTTConfig) (*MQTT, error) {
	client, err := safe_mqtt.InitMQTTClient(ctx, _cfg.URL, _cfg.ClientPrefix+uuid.New().String())
	if err != nil {
		return nil, errors.Wrap(err, "mqtt connect")
	}
	return &MQTT{cfg: _cfg, client: client}, nil
}

func (m *MQTT) Close() {
	m.client.Close()
}

func (m *MQTT) Watch(ctx context.Context, path string, subtree bool) (<-chan Message, error) {
	topic := path
	if subtree {
		topic += "/#"
	}

	ch := make(chan Message, watchBuffer)
	deliver := func(msg Message) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}

	handler := func(_ mqtt.Client, message mqtt.Message) {
		if len(message.Payload()) == 0 {
			logger.L().Debugf("Empty payload on %s", message.Topic())
			return
		}
		v, err := ParsePayload(message.Payload(), m.cfg.JSONEntry)
		if err != nil {
			logger.L().Errorf("%s: %v", message.Topic(), err)
			return
		}
		deliver(Message{Path: message.Topic(), Value: v})
	}

	token := m.client.SafeSubscribe(topic, mqttQoS, handler)
	if !token.WaitTimeout(subscribeWait) {
		return nil, errors.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}

	go func() {
		// retained values arrive right after the subscription is acknowledged
		select {
		case <-time.After(m.cfg.UpToDateDelay):
			deliver(Message{Path: path, UpToDate: true})
		case <-ctx.Done():
		}
		<-ctx.Done()
		m.client.SafeUnsubscribe(topic)
	}()

	return ch, nil
}

func (m *MQTT) Set(ctx context.Context, path string, value any, idempotent bool) error {
	payload := FormatValue(value)
	if !m.last.changed(path, payload, idempotent) {
		return nil
	}

	token := m.client.SafePublish(path, mqttQoS, true, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		m.last.forget(path)
		return errors.Errorf("publish to %s timed out", path)
	case <-ctx.Done():
		m.last.forget(path)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		m.last.forget(path)
		return errors.Wrapf(err, "publish to %s", path)
	}
	logger.L().Debugf("Set %s = %s", path, payload)
	return nil
}
