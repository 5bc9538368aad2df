package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrPublisherBusy is returned by Publish when the outbound buffer is full,
// typically because the broker has been unreachable for a while.
var ErrPublisherBusy = errors.New("queue: publisher buffer full")

const (
	defaultBufferSize = 256
	dialTimeout       = 3 * time.Second
	maxBackoff        = 30 * time.Second
)

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

// Publisher queues events in memory and ships them to RabbitMQ from Run.
// Publish never blocks on the network so request handlers are unaffected by
// broker outages; events that do not fit the buffer are dropped.
type Publisher struct {
	url  string
	log  zerolog.Logger
	buf  chan []byte
	dial dialFunc

	mu      sync.Mutex
	running bool
}

// NewPublisher builds a publisher for the broker at url.  Nothing is sent
// until Run is started.
func NewPublisher(url string, log zerolog.Logger) *Publisher {
	return &Publisher{
		url:  url,
		log:  log.With().Str("component", "event-publisher").Logger(),
		buf:  make(chan []byte, defaultBufferSize),
		dial: dialAMQP,
	}
}

// Publish serializes ev and hands it to the background sender.
func (p *Publisher) Publish(_ context.Context, ev AuthEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	select {
	case p.buf <- body:
		return nil
	default:
		return ErrPublisherBusy
	}
}

// Run connects to the broker and publishes buffered events until ctx is
// cancelled.  Connection failures are retried with exponential backoff; the
// message being sent when a connection drops is retried on the next one.
func (p *Publisher) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("queue: publisher already running")
	}
	p.running = true
	p.mu.Unlock()

	var pending []byte
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ch, conn, err := p.dial(p.url)
		if err != nil {
			p.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial broker failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		pending, err = p.drain(ctx, ch, pending)
		_ = ch.Close()
		_ = conn.Close()
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn().Err(err).Msg("publish loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

// drain publishes pending (if any) and then every buffered message.  On
// failure it returns the message that could not be sent.
func (p *Publisher) drain(ctx context.Context, ch channel, pending []byte) ([]byte, error) {
	if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
		return pending, fmt.Errorf("queue declare: %w", err)
	}
	for {
		if pending == nil {
			select {
			case <-ctx.Done():
				return nil, nil
			case pending = <-p.buf:
			}
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         pending,
		}
		if err := ch.PublishWithContext(ctx, "", AuthEventsQueue, false, false, msg); err != nil {
			return pending, fmt.Errorf("publish: %w", err)
		}
		pending = nil
	}
}

func dialAMQP(url string) (channel, io.Closer, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, conn, nil
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
