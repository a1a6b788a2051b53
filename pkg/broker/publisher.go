package broker

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher sends a payload to a topic.
type IPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Publisher struct {
	client mqtt.Client
}

var _ IPublisher = (*Publisher)(nil)

func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: publish %s: %w", topic, err)
	}
	return nil
}

// FakePublisher records every publish for tests.
type FakePublisher struct {
	Messages     []Published
	PublishError error
}

type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

var _ IPublisher = (*FakePublisher)(nil)

func (f *FakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Published{topic, qos, retained, append([]byte(nil), payload...)})
	return nil
}
