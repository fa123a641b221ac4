package queue

import (
	"fmt"

	"github.com/streadway/amqp"
)

// MockAMQPConnection is a mock implementation of AMQPConnection for testing
type MockAMQPConnection struct {
	// MockChannel is the channel to return from Channel()
	MockChannel AMQPChannel
	// Errors to return from operations
	ChannelErr error
	CloseErr   error
	// Track function calls
	ChannelCalled bool
	CloseCalled   bool
}

// Channel returns the mock channel
func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

// Close mocks closing the connection
func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPChannel is a mock implementation of AMQPChannel for testing
type MockAMQPChannel struct {
	// Deliveries is the channel handed out by Consume
	Deliveries chan amqp.Delivery
	// Errors to return from operations
	QueueDeclareErr error
	QosErr          error
	ConsumeErr      error
	CloseErr        error
	// Track function calls
	QueueDeclareCalled bool
	QosCalled          bool
	ConsumeCalled      bool
	CloseCalled        bool
	// Store last call parameters
	LastQueueName     string
	LastAutoDelete    bool
	LastDurable       bool
	LastPrefetchCount int
	LastConsumerTag   string
	LastAutoAck       bool
}

// QueueDeclare mocks declaring a queue
func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.QueueDeclareCalled = true
	m.LastQueueName = name
	m.LastDurable = durable
	m.LastAutoDelete = autoDelete
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{
		Name:      name,
		Messages:  0,
		Consumers: 0,
	}, nil
}

// Qos mocks configuring the prefetch window
func (m *MockAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.QosCalled = true
	m.LastPrefetchCount = prefetchCount
	return m.QosErr
}

// Consume mocks starting a consumer
func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.ConsumeCalled = true
	m.LastQueueName = queue
	m.LastConsumerTag = consumer
	m.LastAutoAck = autoAck
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	if m.Deliveries == nil {
		m.Deliveries = make(chan amqp.Delivery, 16)
	}
	return m.Deliveries, nil
}

// Close mocks closing the channel
func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPDialer is a mock implementation of AMQPDialer for testing
type MockAMQPDialer struct {
	// MockConnection is the connection to return from Dial()
	MockConnection AMQPConnection
	// Error to return from Dial
	DialErr error
	// Track function calls
	DialCalled bool
	DialCount  int
	// Store last call parameters
	LastURL string
}

// Dial mocks dialing an AMQP connection
func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.DialCount++
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// SetupMockDialerForTest creates a fully configured mock dialer for testing
func SetupMockDialerForTest() (*MockAMQPDialer, *MockAMQPChannel, *MockAMQPConnection) {
	mockChannel := &MockAMQPChannel{
		Deliveries: make(chan amqp.Delivery, 16),
	}

	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}

	mockDialer := &MockAMQPDialer{
		MockConnection: mockConn,
	}

	return mockDialer, mockChannel, mockConn
}

// SetupMockDialerWithChannelError creates a mock dialer that fails on channel creation
func SetupMockDialerWithChannelError() *MockAMQPDialer {
	mockConn := &MockAMQPConnection{
		ChannelErr: fmt.Errorf("failed to open channel"),
	}

	return &MockAMQPDialer{
		MockConnection: mockConn,
	}
}

// MockAcknowledger records acks and rejections so tests can assert on the
// consumer's acknowledgement decisions. It implements amqp.Acknowledger.
type MockAcknowledger struct {
	// Acks, Nacks record delivery tags in call order
	Acks  []uint64
	Nacks []uint64
	// RequeuedNacks records the requeue flag of each Nack
	RequeuedNacks []bool
	// Errors to inject
	AckErr  error
	NackErr error
}

// Ack records an acknowledgement
func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	if m.AckErr != nil {
		return m.AckErr
	}
	m.Acks = append(m.Acks, tag)
	return nil
}

// Nack records a negative acknowledgement and its requeue flag
func (m *MockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	if m.NackErr != nil {
		return m.NackErr
	}
	m.Nacks = append(m.Nacks, tag)
	m.RequeuedNacks = append(m.RequeuedNacks, requeue)
	return nil
}

// Reject records a rejection as a single-message Nack
func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Nack(tag, false, requeue)
}
