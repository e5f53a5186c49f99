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

package safe_mqtt

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/antst/mhpbc/internal/logger"
)

const (
	reconnectInterval = 2 * time.Second
	disconnectQuiesce = 250
)

// MqttClient is bridge between our app and MQTT
type MqttClient interface {
	SafePublish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	SafeSubscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	SafeUnsubscribe(topics ...string) mqtt.Token
	Close()
}

type subscription struct {
	qos      byte
	callback mqtt.MessageHandler
}

type mqttClient struct {
	mutex sync.Mutex
	mqtt  mqtt.Client
	subs  map[string]subscription
}

var connectLostHandler = func(client mqtt.Client, err error) {
	logger.L().Warnf("Connection to MQTT broker lost: %v", err)
}

// InitMQTTClient connects to the broker, retrying until it succeeds or ctx is done.
// Subscriptions are restored after every reconnect.
func InitMQTTClient(ctx context.Context, url, clientID string) (MqttClient, error) {
	m := &mqttClient{subs: make(map[string]subscription)}

	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(reconnectInterval)

	opts.OnConnect = m.onConnect
	opts.OnConnectionLost = connectLostHandler

	m.mqtt = mqtt.NewClient(opts)
	if err := reconnectMQTT(ctx, m.mqtt); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *mqttClient) onConnect(client mqtt.Client) {
	or := client.OptionsReader()
	logger.L().Infof("Connected to MQTT broker: %v as %s", or.Servers(), or.ClientID())

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for topic, sub := range m.subs {
		client.Subscribe(topic, sub.qos, sub.callback)
	}
}

func reconnectMQTT(ctx context.Context, client mqtt.Client) error {
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		logger.L().Warnf("Connection failed, retrying in %v: %v", reconnectInterval, token.Error())
		select {
		case <-time.After(reconnectInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *mqttClient) SafePublish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.mqtt.Publish(topic, qos, retained, payload)
}

func (m *mqttClient) SafeSubscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.subs[topic] = subscription{qos: qos, callback: callback}
	return m.mqtt.Subscribe(topic, qos, callback)
}

func (m *mqttClient) SafeUnsubscribe(topics ...string) mqtt.Token {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, topic := range topics {
		delete(m.subs, topic)
	}
	return m.mqtt.Unsubscribe(topics...)
}

func (m *mqttClient) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.mqtt.Disconnect(disconnectQuiesce)
}
