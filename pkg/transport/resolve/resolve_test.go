package resolve

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/modoterra/logrelay/pkg/transport/filequeue"
	"github.com/modoterra/logrelay/pkg/transport/redisq"
)

func TestBackend(t *testing.T) {
	tests := map[string]string{
		"redis://localhost:6379":      "redis",
		"rediss://cache:6380?queue=q": "redis",
		"file:///tmp/q.wal":           "file",
		"test-queue":                  "file",
	}
	for path, want := range tests {
		if got := Backend(path); got != want {
			t.Errorf("Backend(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestOpenDispatches(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rx, err := Open(ctx, "redis://"+mr.Addr()+"?queue=q")
	if err != nil {
		t.Fatal(err)
	}
	defer rx.Close()
	if _, ok := rx.(*redisq.Receiver); !ok {
		t.Errorf("expected redis receiver, got %T", rx)
	}

	path := filepath.Join(t.TempDir(), "q.wal")
	fx, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer fx.Close()
	if _, ok := fx.(*filequeue.Receiver); !ok {
		t.Errorf("expected file receiver, got %T", fx)
	}
}

func TestSenderAndDeadLettersThroughResolver(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "q.wal")

	s, err := OpenSender(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for _, p := range []string{"a", "b", "c"} {
		if err := s.Send(ctx, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	rx, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer rx.Close()
	for i := 0; i < 3; i++ {
		msg, err := rx.TryReceive(ctx, 50*time.Millisecond)
		if err != nil || msg == nil {
			t.Fatalf("receive %d: %v, %v", i, msg, err)
		}
		if err := rx.DeadLetter(ctx, msg, "test"); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := DeadLetters(ctx, path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || string(recs[0].Payload) != "b" || string(recs[1].Payload) != "c" {
		t.Errorf("got %+v", recs)
	}
}
