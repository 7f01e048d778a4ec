package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"comfyclient/internal/jobclient"
	"comfyclient/pkg/types"
)

const amqpPublishTimeout = 5 * time.Second

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards events as JSON to a durable queue. Publishing runs
// on a single worker; when its buffer is full events are dropped.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
	log   zerolog.Logger

	events    chan types.EventMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string, log zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	p, err := newAMQPPublisher(ch, queue, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, queue string, log zerolog.Logger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = "comfyclient_events"
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	p := &AMQPPublisher{
		ch:     ch,
		queue:  queue,
		log:    log,
		events: make(chan types.EventMessage, hubBuffer),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

func (p *AMQPPublisher) Publish(e jobclient.Event) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.events <- ToMessage(e):
	default:
		p.log.Warn().Str("event", e.Name).Msg("amqp buffer full; event dropped")
	}
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.events:
			p.send(msg)
		case <-p.done:
			for {
				select {
				case msg := <-p.events:
					p.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *AMQPPublisher) send(msg types.EventMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Str("event", msg.Name).Msg("encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), amqpPublishTimeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Name,
		Timestamp:    time.Unix(msg.TimeUnix, 0),
		Body:         body,
	})
	if err != nil {
		p.log.Error().Err(err).Str("event", msg.Name).Msg("publish event to rabbitmq")
	}
}

// Close flushes buffered events and closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.ch.Close()
		if p.conn != nil {
			if cerr := p.conn.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
