// Package broker carries accepted messages between relay instances over
// NATS JetStream.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/johndosdos/relay/internal/model"
)

// Credentials selects how Connect authenticates. Cred wins over User/Password.
type Credentials struct {
	Cred     string
	User     string
	Password string
}

// Connect dials the NATS server at url.
func Connect(url string, creds Credentials) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is empty")
	}

	var opts []nats.Option
	if creds.Cred != "" {
		opts = append(opts, nats.UserCredentials(creds.Cred))
	} else if creds.User != "" && creds.Password != "" {
		opts = append(opts, nats.UserInfo(creds.User, creds.Password))
	}
	opts = append(opts, nats.Timeout(5*time.Second), nats.Name("relay"))

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// JetStream publishes to and consumes from the relay stream.
type JetStream struct {
	js     jetstream.JetStream
	stream jetstream.Stream
}

// NewJetStream creates or updates the relay stream on conn.
func NewJetStream(ctx context.Context, conn *nats.Conn) (*JetStream, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream instance: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectRoom},
		MaxBytes: 1 << 30, // 1GB max storage
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &JetStream{js: js, stream: stream}, nil
}

func (b *JetStream) Publish(ctx context.Context, msg model.Message) error {
	p, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not encode payload to JSON: %w", err)
	}

	_, err = b.js.Publish(ctx,
		SubjectRoom,
		p,
		jetstream.WithMsgID(uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to stream [%s]: %w", SubjectRoom, err)
	}
	return nil
}

// Subscribe starts an ephemeral consumer that delivers messages published
// from now on to out, in stream order. It stops when ctx is cancelled.
func (b *JetStream) Subscribe(ctx context.Context, out chan<- model.Message) error {
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		var payload model.Message
		if err := json.Unmarshal(msg.Data(), &payload); err != nil {
			slog.Warn("could not decode broker payload", "error", err)
			msg.Term() //nolint:errcheck
			return
		}

		select {
		case out <- payload:
			msg.Ack() //nolint:errcheck
		case <-ctx.Done():
			msg.Nak() //nolint:errcheck
		}
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		slog.Warn("consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Drain()
	}()

	return nil
}
