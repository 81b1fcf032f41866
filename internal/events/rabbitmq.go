package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultRabbitMQQueue 是未配置时使用的队列名。
const DefaultRabbitMQQueue = "machineid.gate_events"

// RabbitMQConfig 描述 RabbitMQ 的连接参数。
type RabbitMQConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// RabbitMQPublisher 通过默认交换机将事件投递到队列。
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
}

// NewRabbitMQPublisher 连接 RabbitMQ 并声明队列。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, queue: queue, durable: cfg.Durable}, nil
}

// Name 返回驱动名。
func (p *RabbitMQPublisher) Name() string { return "rabbitmq" }

// Publish 以 JSON 投递事件。
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 投递器未初始化")
	}
	payload, err := encode(event)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, publishing(event, payload, p.durable))
}

func publishing(event Event, payload []byte, durable bool) amqp.Publishing {
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.RunID,
		Type:        event.Stage,
		Timestamp:   event.OccurredAt,
		Body:        payload,
	}
	if durable {
		msg.DeliveryMode = amqp.Persistent
	}
	return msg
}

// Close 关闭 channel 与连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
