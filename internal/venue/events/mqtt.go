package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTNudger publishes {"task":N} to <prefix>/<tenant>/devices/<id>/task.
// Controllers subscribed there fetch their config instead of waiting for
// the next poll.
type MQTTNudger struct {
	client mqtt.Client
	prefix string
}

func NewMQTTNudger(broker, clientID, prefix string) (*MQTTNudger, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetAutoReconnect(true).SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return newMQTTNudger(client, prefix), nil
}

func newMQTTNudger(client mqtt.Client, prefix string) *MQTTNudger {
	return &MQTTNudger{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (n *MQTTNudger) Topic(tenantID, deviceID int64) string {
	return fmt.Sprintf("%s/%d/devices/%d/task", n.prefix, tenantID, deviceID)
}

func (n *MQTTNudger) NudgeTask(ctx context.Context, tenantID, deviceID int64, task int) error {
	payload, err := json.Marshal(map[string]int{"task": task})
	if err != nil {
		return err
	}
	token := n.client.Publish(n.Topic(tenantID, deviceID), 1, false, payload)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *MQTTNudger) Close() {
	n.client.Disconnect(250)
}
