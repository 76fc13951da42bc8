package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	// DefaultTopic is the topic prefix alarm sets are published under.
	DefaultTopic = "prayer-alarms"

	publishTimeout = 10 * time.Second
)

// Publisher is the part of mqtt.Client the primitive uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPrimitive publishes each alarm set as a retained message on
// <topic>/<tag>. A device subscribed to the topic (an athan speaker or
// display) owns the actual firing, so alarms go off without this process.
// Publishing a new set replaces the retained one; canceling publishes an
// empty retained message.
type MQTTPrimitive struct {
	client Publisher
	topic  string
	now    func() time.Time
}

// alarmSet is the JSON document published for a tag.
type alarmSet struct {
	Tag         string      `json:"tag"`
	PlayAzan    bool        `json:"play_azan"`
	Alarms      []wireAlarm `json:"alarms"`
	ScheduledAt time.Time   `json:"scheduled_at"`
}

type wireAlarm struct {
	Name      string    `json:"name"`
	Trigger   time.Time `json:"trigger"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
}

// NewMQTTPrimitive publishes through client under topic (DefaultTopic when
// empty).
func NewMQTTPrimitive(client Publisher, topic string) *MQTTPrimitive {
	topic = strings.TrimSuffix(topic, "/")
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTPrimitive{client: client, topic: topic, now: time.Now}
}

// ConnectMQTT connects a client to broker.
func ConnectMQTT(broker, clientID string, log zerolog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(publishTimeout)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", broker).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Topic returns the topic a tag's alarm set is published on.
func (p *MQTTPrimitive) Topic(tag string) string {
	return p.topic + "/" + tag
}

func (p *MQTTPrimitive) ScheduleAlarms(ctx context.Context, alarms []Alarm, opts Options) error {
	set := alarmSet{
		Tag:         opts.Tag,
		PlayAzan:    opts.PlayAzan,
		Alarms:      make([]wireAlarm, 0, len(alarms)),
		ScheduledAt: p.now(),
	}
	for _, a := range alarms {
		set.Alarms = append(set.Alarms, wireAlarm{Name: a.Name, Trigger: a.Trigger, Timestamp: a.Trigger.UnixMilli()})
	}

	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm set: %w", err)
	}
	return p.publish(ctx, p.Topic(opts.Tag), payload)
}

func (p *MQTTPrimitive) CancelAlarms(ctx context.Context, tag string) error {
	return p.publish(ctx, p.Topic(tag), []byte{})
}

func (p *MQTTPrimitive) publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
