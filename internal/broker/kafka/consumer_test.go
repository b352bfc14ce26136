package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	fetched   int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.fetched++
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

// noSleep записывает паузы вместо ожидания.
func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestConsumer_Consume_CallsHandlerAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.ErrorContains(t, err, "stop")
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_RetriesSameMessageBeforeNext(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 10, Value: []byte("delivered-1")},
			{Offset: 11, Value: []byte("delivered-2")},
		},
		err: errors.New("stop"),
	}
	var delays []time.Duration
	c := newConsumerWithReader(fr).WithRetryBackoff(100*time.Millisecond, 300*time.Millisecond)
	c.sleep = noSleep(&delays)

	var seen []string
	failures := 3
	err := c.Consume(context.Background(), func(_ []byte, v []byte) error {
		seen = append(seen, string(v))
		if string(v) == "delivered-1" && failures > 0 {
			failures--
			require.Empty(t, fr.committed)
			require.Equal(t, 1, fr.fetched)
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.ErrorContains(t, err, "stop")

	require.Equal(t, []string{"delivered-1", "delivered-1", "delivered-1", "delivered-1", "delivered-2"}, seen)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, delays)
	require.Len(t, fr.committed, 2)
	require.Equal(t, int64(10), fr.committed[0].Offset)
	require.Equal(t, int64(11), fr.committed[1].Offset)
}

func TestConsumer_Consume_CanceledDuringRetryDoesNotCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Offset: 3, Value: []byte("v")}, {Offset: 4, Value: []byte("w")}}}
	ctx, cancel := context.WithCancel(context.Background())
	var delays []time.Duration
	c := newConsumerWithReader(fr)
	c.sleep = noSleep(&delays)

	want := errors.New("db unavailable")
	calls := 0
	err := c.Consume(ctx, func(k, v []byte) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return want
	})
	require.ErrorIs(t, err, want)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, fr.fetched)
	require.Empty(t, fr.committed)
	require.Equal(t, []time.Duration{DefaultRetryMin, 2 * DefaultRetryMin}, delays)
}

func TestConsumer_WithRetryBackoff_MaxBelowMin(t *testing.T) {
	c := newConsumerWithReader(&fakeReader{}).WithRetryBackoff(time.Second, time.Millisecond)
	require.Equal(t, time.Second, c.retryMin)
	require.Equal(t, time.Second, c.retryMax)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}

func TestConsumer_WithRetryBackoff_ZeroKeepsDefaults(t *testing.T) {
	c := newConsumerWithReader(&fakeReader{}).WithRetryBackoff(0, 0)
	require.Equal(t, DefaultRetryMin, c.retryMin)
	require.Equal(t, DefaultRetryMax, c.retryMax)
}
