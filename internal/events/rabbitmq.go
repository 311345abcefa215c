// Package events publishes ledger domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// EventTypeTransferCompleted is the eventType of a committed transfer.
const EventTypeTransferCompleted = "transfer.completed"

const dialTimeout = 10 * time.Second

// Amount is a decimal value with its currency.
type Amount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currencyCode"`
}

// TransferCompletedEvent is the payload published after a transfer commits.
type TransferCompletedEvent struct {
	EventType      string    `json:"eventType"`
	OperationID    string    `json:"operationId"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Status         string    `json:"status"`
	Amount         Amount    `json:"amount"`
	InitiatedBy    string    `json:"initiatedBy,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewTransferCompletedEvent builds the event for a committed record.
func NewTransferCompletedEvent(record *domain.TransferRecord) TransferCompletedEvent {
	return TransferCompletedEvent{
		EventType:      EventTypeTransferCompleted,
		OperationID:    record.ID.String(),
		SenderID:       record.SourceAccountID,
		RecipientID:    record.DestinationAccountID,
		IdempotencyKey: record.IdempotencyKey,
		Status:         string(record.Status),
		Amount: Amount{
			Value:        domain.FormatAmount(record.Amount),
			CurrencyCode: record.Currency,
		},
		InitiatedBy: record.InitiatedBy,
		Timestamp:   record.CreatedAt.UTC(),
	}
}

// RabbitMQPublisher publishes events to a durable topic exchange.
type RabbitMQPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

var _ domain.EventPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher connects to url and declares exchange.
func NewRabbitMQPublisher(url, exchange, routingKey string) (*RabbitMQPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	p := &RabbitMQPublisher{
		conn:       conn,
		exchange:   exchange,
		routingKey: routingKey,
	}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return nil
}

// PublishTransferCompleted publishes the transfer.completed event for record.
func (p *RabbitMQPublisher) PublishTransferCompleted(ctx context.Context, record *domain.TransferRecord) error {
	body, err := json.Marshal(NewTransferCompletedEvent(record))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    record.ID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	// A closed channel is reopened once before giving up.
	if p.conn.IsClosed() {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if reopenErr := p.openChannel(); reopenErr != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
