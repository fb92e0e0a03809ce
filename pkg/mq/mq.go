package mq

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"stdinfuzz/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ConnectionPoolSize = 2
)

type RabbitMQ interface {
	// Publish declares queue as durable and sends body to it as a persistent JSON message.
	Publish(ctx context.Context, queue string, body []byte) error
}

type rabbitMQImpl struct {
	logger      *zap.Logger
	rabbitmqUrl string
	context     context.Context
	connections []*mqConnection
	mu          sync.Mutex
}

type mqConnection struct {
	conn      *amqp.Connection
	closeChan chan *amqp.Error
	logger    *zap.Logger

	closed bool
	mu     sync.Mutex
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRabbitMQ returns nil when no broker is configured.
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Debug("RABBITMQ_URL not set, crash notifications disabled")
		return nil
	}

	mqCtx, cancel := context.WithCancel(context.Background())

	svc := &rabbitMQImpl{
		logger:      p.Logger.Named("mq"),
		rabbitmqUrl: p.Config.RabbitMQURL,
		context:     mqCtx,
		connections: make([]*mqConnection, 0, ConnectionPoolSize),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.logger.Debug("initializing RabbitMQ connection pool", zap.Int("pool_size", ConnectionPoolSize))
			for range ConnectionPoolSize {
				mConn, err := svc.newConnection()
				if err != nil {
					cancel()
					return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
				}
				svc.mu.Lock()
				svc.connections = append(svc.connections, mConn)
				svc.mu.Unlock()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return svc
}

func (r *rabbitMQImpl) activeConnection() (*mqConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*mqConnection, 0, len(r.connections))
	for _, c := range r.connections {
		if !c.isClosed() {
			candidates = append(candidates, c)
		}
	}
	r.connections = candidates

	// refill dropped connections before picking one
	for len(r.connections) < ConnectionPoolSize {
		mConn, err := r.newConnection()
		if err != nil {
			r.logger.Warn("failed to reconnect to RabbitMQ", zap.Error(err))
			break
		}
		r.connections = append(r.connections, mConn)
	}

	if len(r.connections) == 0 {
		return nil, errors.New("no active RabbitMQ connections")
	}
	return r.connections[rand.IntN(len(r.connections))], nil
}

func (r *rabbitMQImpl) newConnection() (*mqConnection, error) {
	conn, err := amqp.Dial(r.rabbitmqUrl)
	if err != nil {
		return nil, err
	}

	mConn := &mqConnection{
		conn:      conn,
		closeChan: make(chan *amqp.Error, 1),
		logger:    r.logger,
	}
	go mConn.monitor(r.context)

	return mConn, nil
}

// monitor blocks until the broker drops the connection or ctx is done.
func (c *mqConnection) monitor(ctx context.Context) {
	c.conn.NotifyClose(c.closeChan)

	select {
	case err := <-c.closeChan:
		c.logger.Error("RabbitMQ connection closed", zap.Error(err))
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	case <-ctx.Done():
	}

	c.conn.Close()
}

func (c *mqConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (r *rabbitMQImpl) Publish(ctx context.Context, queue string, body []byte) error {
	conn, err := r.activeConnection()
	if err != nil {
		return err
	}

	ch, err := conn.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}
