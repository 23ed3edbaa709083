package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []int64
	commitErr error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
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

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CommitsAfterHandler(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("L1"), Value: []byte(`{"latitude":1}`), Offset: 10},
			{Key: []byte("L2"), Value: []byte(`{"latitude":2}`), Offset: 11},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var keys []string
	err := c.Consume(context.Background(), func(_ context.Context, k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	require.ErrorContains(t, err, "fetch message")
	require.Equal(t, []string{"L1", "L2"}, keys)
	require.Equal(t, []int64{10, 11}, fr.committed)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v"), Offset: 3}}}
	c := newConsumerWithReader(fr)

	want := errors.New("storage down")
	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_Consume_CommitError(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k")}}, commitErr: errors.New("rebalance")}
	c := newConsumerWithReader(fr)

	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error { return nil })
	require.ErrorContains(t, err, "commit message")
}

func TestConsumer_Consume_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newConsumerWithReader(&fakeReader{})
	require.NoError(t, c.Consume(ctx, func(context.Context, []byte, []byte) error { return nil }))
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "location.ingest", "freight-api")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
