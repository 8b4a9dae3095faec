package mq

import (
	"context"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestConnectionCloseIdempotent(t *testing.T) {
	c := &Connection{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		closedCh: make(chan struct{}),
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("repeated Close: %v", err)
	}
}

func TestWithChannelWithoutConnection(t *testing.T) {
	c := &Connection{}

	if c.IsConnected() {
		t.Error("IsConnected = true without a connection")
	}

	err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil })
	if err == nil {
		t.Fatal("expected error when no channel is open")
	}
}
