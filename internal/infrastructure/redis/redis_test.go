package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if client.Raw() == nil {
		t.Error("Raw() returned nil")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("Connect() expected error for unreachable server")
	}
}

func TestHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	mr.Close()

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error after server close")
	}
}

func TestClose(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
