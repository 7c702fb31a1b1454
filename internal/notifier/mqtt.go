package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"dryer-alarm/common/mqtt"
)

// MQTTNotifier 发布到 MQTT，主题为 {topic}/{severity}
type MQTTNotifier struct {
	publisher mqtt.Publisher
	topic     string
	qos       byte
}

// NewMQTTNotifier 创建 MQTT 通知渠道
func NewMQTTNotifier(publisher mqtt.Publisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
	}
}

func (m *MQTTNotifier) Name() string {
	return "mqtt"
}

func (m *MQTTNotifier) Notify(_ context.Context, n AlertNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal alert notification: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", m.topic, n.Alert.Severity)
	return m.publisher.Publish(topic, m.qos, false, payload)
}
