// Package events fans job transitions out to the real-time layer over
// RabbitMQ. The publisher is a plain transition subscriber; losing a
// message only degrades UI progress, never job execution.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

// Config holds the AMQP connection and exchange settings.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Publisher publishes one persistent JSON message per job transition to a
// topic exchange.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     Config
}

// NewPublisher connects and declares the exchange.
func NewPublisher(cfg Config) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info().Str("exchange", cfg.Exchange).Msg("transition publisher connected")
	return &Publisher{conn: conn, channel: channel, cfg: cfg}, nil
}

// HandleTransition is the subscriber hooked into Service.Subscribe. It runs
// on a worker goroutine, so publish failures are logged and dropped rather
// than propagated into job execution.
func (p *Publisher) HandleTransition(tr domain.Transition) {
	body, err := json.Marshal(tr)
	if err != nil {
		log.Error().Err(err).Str("job_id", tr.JobID).Msg("encode transition")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s.%s.%s", p.cfg.RoutingKey, tr.Type, tr.Status)
	err = p.channel.PublishWithContext(ctx,
		p.cfg.Exchange, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		log.Error().Err(err).Str("job_id", tr.JobID).Msg("publish transition")
	}
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
