package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Topology names the exchanges and queues enrollments flow through.
type Topology struct {
	Exchange    string
	RoutingKey  string
	Queue       string
	DeadLetterX string
	DeadLetterQ string
}

// TopologyFor derives queue and dead-letter names from the exchange.
func TopologyFor(exchange, routingKey string) Topology {
	return Topology{
		Exchange:    exchange,
		RoutingKey:  routingKey,
		Queue:       exchange + ".queue",
		DeadLetterX: exchange + ".dlx",
		DeadLetterQ: exchange + ".dlq",
	}
}

// Declare creates the exchanges and queues. Messages rejected by the
// platform's consumer are dead-lettered to DeadLetterQ.
func (t Topology) Declare(ch Channel) error {
	if err := ch.ExchangeDeclare(t.DeadLetterX, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "delivery: declare dead-letter exchange")
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQ, true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "delivery: declare dead-letter queue")
	}
	if err := ch.QueueBind(t.DeadLetterQ, t.RoutingKey, t.DeadLetterX, false, nil); err != nil {
		return eris.Wrap(err, "delivery: bind dead-letter queue")
	}

	if err := ch.ExchangeDeclare(t.Exchange, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "delivery: declare exchange")
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterX,
		"x-dead-letter-routing-key": t.RoutingKey,
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return eris.Wrap(err, "delivery: declare queue")
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return eris.Wrap(err, "delivery: bind queue")
	}
	return nil
}

// AMQPEnroller publishes enrollments as persistent JSON messages.
type AMQPEnroller struct {
	conn     *amqp.Connection
	ch       Channel
	topology Topology
}

// DialAMQP connects, opens a channel and declares the topology.
func DialAMQP(url, exchange, routingKey string) (*AMQPEnroller, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "delivery: dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "delivery: open channel")
	}
	e, err := NewAMQPEnroller(ch, TopologyFor(exchange, routingKey))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	e.conn = conn
	zap.L().Info("delivery: amqp connected", zap.String("exchange", exchange))
	return e, nil
}

// NewAMQPEnroller declares the topology on ch.
func NewAMQPEnroller(ch Channel, t Topology) (*AMQPEnroller, error) {
	if err := t.Declare(ch); err != nil {
		return nil, err
	}
	return &AMQPEnroller{ch: ch, topology: t}, nil
}

// EnrollProspect implements Enroller.
func (a *AMQPEnroller) EnrollProspect(ctx context.Context, prospectID, campaignID string) error {
	msg := newMessage(prospectID, campaignID)
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "delivery: marshal message")
	}

	err = a.ch.PublishWithContext(ctx, a.topology.Exchange, a.topology.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.RequestedAt,
		Body:         body,
	})
	if err != nil {
		if retryablePublishError(err) {
			return resilience.NewTransientError(eris.Wrap(err, "delivery: publish"), 0)
		}
		return eris.Wrap(err, "delivery: publish")
	}
	return nil
}

// retryablePublishError reports broker errors that a later attempt may
// not hit.
func retryablePublishError(err error) bool {
	if errors.Is(err, amqp.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *amqp.Error
	return errors.As(err, &ae) && ae.Recover
}

// Close closes the channel and connection.
func (a *AMQPEnroller) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.CloseDeadline(time.Now().Add(5 * time.Second)); cerr != nil && err == nil {
			err = cerr
		}
	}
	return eris.Wrap(err, "delivery: close amqp")
}
