package redisq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/logrelay/pkg/transport"
)

func setup(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, "redis://" + mr.Addr() + "/0?queue=test"
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantQueue string
		wantAddr  string
		wantDB    int
		wantErr   bool
	}{
		{"with queue", "redis://localhost:6379/2?queue=logs", "logs", "localhost:6379", 2, false},
		{"default queue", "redis://cache:6380", DefaultQueue, "cache:6380", 0, false},
		{"invalid protocol", "http://localhost:6379", "", "", 0, true},
		{"not a url", "::", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, queue, err := ParsePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to parse")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueue, queue)
			assert.Equal(t, tt.wantAddr, opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
		})
	}
}

func TestOpenUnavailable(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "http://localhost:6379")
	assert.True(t, errors.Is(err, transport.ErrUnavailable), "got %v", err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = Open(ctx, "redis://"+addr+"?queue=test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrUnavailable), "got %v", err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestSendReceiveAckFIFO(t *testing.T) {
	mr, path := setup(t)
	ctx := context.Background()

	s, err := OpenSender(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, transport.StateOpen, r.State())

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, s.Send(ctx, []byte(p)))
	}

	for _, want := range []string{"one", "two", "three"} {
		msg, err := r.TryReceive(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, want, string(msg.Payload))
		assert.Equal(t, Fingerprint([]byte(want)), msg.ID)

		inflight, _ := mr.List("test:processing")
		assert.Equal(t, []string{want}, inflight)

		require.NoError(t, r.Ack(ctx, msg))
	}

	msg, err := r.TryReceive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, transport.StateIdle, r.State())
	assert.False(t, mr.Exists("test:processing"))
}

func TestBlockingReceive(t *testing.T) {
	mr, path := setup(t)
	ctx := context.Background()

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	_, err = mr.Lpush("test", "ready")
	require.NoError(t, err)

	msg, err := r.TryReceive(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "ready", string(msg.Payload))
}

func TestRequeueIsReceivedNext(t *testing.T) {
	mr, path := setup(t)
	ctx := context.Background()

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	mr.Lpush("test", "first")
	mr.Lpush("test", "second")

	msg, err := r.TryReceive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "first", string(msg.Payload))
	require.NoError(t, r.Requeue(ctx, msg))

	again, err := r.TryReceive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(again.Payload))
	assert.Equal(t, msg.ID, again.ID)
}

func TestDeadLetter(t *testing.T) {
	mr, path := setup(t)
	ctx := context.Background()

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	mr.Lpush("test", "poison")
	msg, err := r.TryReceive(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, r.DeadLetter(ctx, msg, "deserialization failed"))

	assert.False(t, mr.Exists("test:processing"))

	recs, err := DeadLetters(ctx, path, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "poison", string(recs[0].Payload))
	assert.Equal(t, "deserialization failed", recs[0].Reason)
	assert.Equal(t, msg.ID, recs[0].MessageID)
}

func TestOpenRecoversProcessingList(t *testing.T) {
	mr, path := setup(t)
	ctx := context.Background()

	// A previous receiver took m1 then m2 and died before settling.
	mr.Lpush("test:processing", "m1")
	mr.Lpush("test:processing", "m2")
	mr.Lpush("test", "m3")

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	for _, want := range []string{"m1", "m2", "m3"} {
		msg, err := r.TryReceive(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, want, string(msg.Payload))
		require.NoError(t, r.Ack(ctx, msg))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, path := setup(t)
	ctx := context.Background()

	r, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, transport.StateClosed, r.State())

	_, err = r.TryReceive(ctx, 0)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, r.Ack(ctx, &transport.Message{Payload: []byte("x")}), transport.ErrClosed)
}

func TestReceiveAfterServerLoss(t *testing.T) {
	mr, path := setup(t)
	ctx := context.Background()

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	mr.Close()
	_, err = r.TryReceive(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrIO)
}
