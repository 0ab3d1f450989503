package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/blues/collab/internal/model"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher 消息发布接口，由 *amqp091.Channel 实现
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPSink 发布事件到 topic exchange
type AMQPSink struct {
	mu        sync.Mutex // amqp channel 不能并发发布
	conn      *amqp091.Connection
	publisher Publisher
	exchange  string
}

// DialAMQPSink 连接 RabbitMQ 并声明 exchange
func DialAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	sink := NewAMQPSink(ch, exchange)
	sink.conn = conn
	return sink, nil
}

// NewAMQPSink 使用已打开的 channel 创建
func NewAMQPSink(publisher Publisher, exchange string) *AMQPSink {
	return &AMQPSink{publisher: publisher, exchange: exchange}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Emit(ctx context.Context, evt model.AuditEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisher.PublishWithContext(ctx,
		s.exchange,
		RoutingKey(evt.Type),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    evt.Timestamp,
			Type:         string(evt.Type),
		},
	)
}

// Close 关闭连接
func (s *AMQPSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.publisher.(*amqp091.Channel); ok && ch != nil {
		_ = ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
