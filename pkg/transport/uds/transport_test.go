package uds

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T, register func(*Server)) (*Server, *Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "test.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	srv := NewServer(sock, logger)
	if register != nil {
		register(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	client, err := Dial(sock)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		cancel()
		srv.Shutdown()
	})
	return srv, client
}

func pingHandler(_ context.Context, _ Message) (any, error) {
	return PingResponse{Pong: true, Version: "test"}, nil
}

func TestPingRoundTrip(t *testing.T) {
	_, client := startServer(t, func(s *Server) { s.Handle(MethodPing, pingHandler) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var pong PingResponse
	if err := client.Call(ctx, MethodPing, nil, &pong); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !pong.Pong {
		t.Error("expected pong=true")
	}
	if pong.Version != "test" {
		t.Errorf("version = %q", pong.Version)
	}
}

func TestRequestPayload(t *testing.T) {
	_, client := startServer(t, func(s *Server) {
		s.Handle(MethodRecent, func(_ context.Context, msg Message) (any, error) {
			var req RecentRequest
			if err := msg.UnmarshalData(&req); err != nil {
				return nil, err
			}
			return map[string]int{"limit": req.Limit}, nil
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out map[string]int
	if err := client.Call(ctx, MethodRecent, RecentRequest{Limit: 7}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out["limit"] != 7 {
		t.Errorf("limit = %d, want 7", out["limit"])
	}

	// Missing payload is reported back as a server error.
	err := client.Call(ctx, MethodRecent, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "empty payload") {
		t.Errorf("expected empty payload error, got %v", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	_, client := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Request(ctx, "NoSuchMethod", nil)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if !strings.Contains(err.Error(), "unknown method") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHandlerError(t *testing.T) {
	_, client := startServer(t, func(s *Server) {
		s.Handle(MethodStatus, func(context.Context, Message) (any, error) {
			return nil, errors.New("distributor stopped")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Request(ctx, MethodStatus, nil)
	if err == nil || !strings.Contains(err.Error(), "distributor stopped") {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestBroadcastEvent(t *testing.T) {
	srv, client := startServer(t, func(s *Server) { s.Handle(MethodPing, pingHandler) })

	evtCh := make(chan Message, 1)
	client.OnEvent(func(msg Message) {
		evtCh <- msg
	})

	// Ensure connection is registered by doing a ping first
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Call(ctx, MethodPing, nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if n := srv.Clients(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}

	evt, err := NewEvent(EventEntryRelayed, map[string]string{"id": "e1"})
	if err != nil {
		t.Fatal(err)
	}
	srv.Broadcast(evt)

	select {
	case msg := <-evtCh:
		if msg.Method != EventEntryRelayed {
			t.Errorf("expected method %s, got %s", EventEntryRelayed, msg.Method)
		}
		var data map[string]string
		if err := msg.UnmarshalData(&data); err != nil {
			t.Fatal(err)
		}
		if data["id"] != "e1" {
			t.Errorf("id = %q", data["id"])
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestClientDoneOnServerShutdown(t *testing.T) {
	srv, client := startServer(t, func(s *Server) { s.Handle(MethodPing, pingHandler) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Call(ctx, MethodPing, nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	srv.Shutdown()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed after server shutdown")
	}
}
