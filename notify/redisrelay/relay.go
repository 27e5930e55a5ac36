// Package redisrelay forwards notification events between processes over
// Redis pub/sub so a user connected to any instance receives them.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/havosec/authcore/notify"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "authcore:notifications"

// Deliverer hands a relayed event to local connections.
type Deliverer interface {
	Deliver(userID string, ev notify.Event) int
}

type envelope struct {
	Origin string       `json:"origin"`
	UserID string       `json:"userId"`
	Event  notify.Event `json:"event"`
}

// Relay implements notify.Relay.
type Relay struct {
	rdb     redis.UniversalClient
	channel string
	origin  string
	log     logrus.FieldLogger

	mu sync.Mutex
	ps *redis.PubSub
	wg sync.WaitGroup
}

var _ notify.Relay = (*Relay)(nil)

type Option func(*Relay)

func WithChannel(name string) Option {
	return func(r *Relay) {
		if name != "" {
			r.channel = name
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Relay) { r.log = log }
}

// New returns a relay with a fresh origin id. Events it publishes are ignored
// by its own subscriber because the local hub already delivered them.
func New(rdb redis.UniversalClient, opts ...Option) *Relay {
	r := &Relay{
		rdb:     rdb,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Forward publishes ev for userID to the other instances.
func (r *Relay) Forward(ctx context.Context, userID string, ev notify.Event) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, UserID: userID, Event: ev})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Start subscribes and delivers remote events to d until Close. It returns
// once the subscription is confirmed.
func (r *Relay) Start(ctx context.Context, d Deliverer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ps != nil {
		return errors.New("redisrelay: already started")
	}

	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	r.ps = ps

	ch := ps.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ch {
			r.handle(msg, d)
		}
	}()
	return nil
}

func (r *Relay) handle(msg *redis.Message, d Deliverer) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.WithError(err).Warn("drop malformed relayed notification")
		return
	}
	if env.Origin == r.origin || env.UserID == "" {
		return
	}
	d.Deliver(env.UserID, env.Event)
}

// Close unsubscribes and waits for the delivery loop to exit.
func (r *Relay) Close() error {
	r.mu.Lock()
	ps := r.ps
	r.ps = nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	r.wg.Wait()
	return err
}
