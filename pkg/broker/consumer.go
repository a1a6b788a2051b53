package broker

import (
	"context"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes a handler to one or more topic filters.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Consumer subscribes a set of topic filters at QoS 1 and blocks until ctx
// ends.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
}

var _ IConsumer = (*Consumer)(nil)

func NewConsumer(client mqtt.Client, handler Handler, topics ...string) *Consumer {
	return &Consumer{client: client, topics: topics, handler: handler}
}

func (c *Consumer) SetHandler(handler Handler) { c.handler = handler }

func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	for _, topic := range c.topics {
		topic := topic
		token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			if c.handler == nil {
				log.Printf("broker: no handler for %s", topic)
				return
			}
			if err := c.handler(msg.Topic(), msg); err != nil {
				log.Printf("broker: handling %s: %v", msg.Topic(), err)
			}
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("broker: subscribe %s: %w", topic, token.Error())
		}
		log.Printf("broker: subscribed to %s", topic)
	}

	<-ctx.Done()

	c.client.Unsubscribe(c.topics...).Wait()
	return nil
}
