package broker

import mqtt "github.com/eclipse/paho.mqtt.golang"

// FakeMessage is an in-memory mqtt.Message for handler tests.
type FakeMessage struct {
	TopicName string
	Body      []byte
	ID        uint16
	Dup       bool
	acked     bool
}

var _ mqtt.Message = (*FakeMessage)(nil)

func (m *FakeMessage) Duplicate() bool   { return m.Dup }
func (m *FakeMessage) Qos() byte         { return 1 }
func (m *FakeMessage) Retained() bool    { return false }
func (m *FakeMessage) Topic() string     { return m.TopicName }
func (m *FakeMessage) MessageID() uint16 { return m.ID }
func (m *FakeMessage) Payload() []byte   { return m.Body }
func (m *FakeMessage) Ack()              { m.acked = true }
func (m *FakeMessage) Acked() bool       { return m.acked }
