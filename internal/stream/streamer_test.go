package stream_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/frame"
	"github.com/graphscript/evalserver/internal/stream"
)

type fakeChannel struct {
	writable bool
	written  []domain.Frame
}

func (f *fakeChannel) UseBinary() bool  { return false }
func (f *fakeChannel) IsWritable() bool { return f.writable }
func (f *fakeChannel) Write(fr domain.Frame) error {
	f.written = append(f.written, fr)
	return nil
}

type fakeCoordinator struct {
	commits    int
	commitErr  error
	commitedAt []int // index into channel.written at time of commit
	channel    *fakeChannel
}

func (c *fakeCoordinator) Commit(ctx domain.Context, msg domain.RequestMessage) error {
	c.commits++
	c.commitedAt = append(c.commitedAt, len(c.channel.written))
	return c.commitErr
}

func newStreamer() *stream.Streamer {
	return stream.New(frame.NewBuilder(nil), nil)
}

func TestStreamer_EmptyIterator_NoContentAndSingleCommit(t *testing.T) {
	ch := &fakeChannel{writable: true}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	msg := domain.RequestMessage{RequestID: "r1"}
	settings := domain.Settings{ResultIterationBatchSize: 10}
	it := domain.NewSliceIterator(nil)

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	require.NoError(t, err)
	assert.Equal(t, 1, coord.commits)
	require.Len(t, ch.written, 1)
	assert.Equal(t, domain.StatusNoContent, ch.written[0].Code)
}

func TestStreamer_CommitPrecedesTerminalFlush(t *testing.T) {
	ch := &fakeChannel{writable: true}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	msg := domain.RequestMessage{RequestID: "r2"}
	settings := domain.Settings{ResultIterationBatchSize: 10}
	it := domain.NewSliceIterator([]any{1, 2, 3})

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	require.NoError(t, err)
	require.Len(t, coord.commitedAt, 1)
	// commit recorded the channel's write count *before* the terminal frame
	// was appended, proving the coordinator runs before the flush.
	assert.Equal(t, 0, coord.commitedAt[0])
	require.Len(t, ch.written, 1)
	assert.Equal(t, domain.StatusSuccess, ch.written[0].Code)
}

func TestStreamer_BatchCountMatchesCeilingDivision(t *testing.T) {
	ch := &fakeChannel{writable: true}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	msg := domain.RequestMessage{RequestID: "r3"}
	settings := domain.Settings{ResultIterationBatchSize: 2}
	it := domain.NewSliceIterator([]any{1, 2, 3, 4, 5}) // ceil(5/2) = 3 batches

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	require.NoError(t, err)
	assert.Len(t, ch.written, 3)
	assert.Equal(t, domain.StatusPartialContent, ch.written[0].Code)
	assert.Equal(t, domain.StatusPartialContent, ch.written[1].Code)
	assert.Equal(t, domain.StatusSuccess, ch.written[2].Code)
}

func TestStreamer_RequestBatchSizeOverridesSettings(t *testing.T) {
	ch := &fakeChannel{writable: true}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	msg := domain.RequestMessage{RequestID: "r4", Args: map[string]any{domain.ArgBatchSize: 1}}
	settings := domain.Settings{ResultIterationBatchSize: 10}
	it := domain.NewSliceIterator([]any{1, 2})

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	require.NoError(t, err)
	assert.Len(t, ch.written, 2)
}

func TestStreamer_BackpressureEventuallyDrainsWhenWritable(t *testing.T) {
	ch := &fakeChannel{writable: false}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	go func() {
		time.Sleep(30 * time.Millisecond)
		ch.writable = true
	}()

	msg := domain.RequestMessage{RequestID: "r5"}
	settings := domain.Settings{ResultIterationBatchSize: 10}
	it := domain.NewSliceIterator([]any{1})

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	require.NoError(t, err)
	assert.Len(t, ch.written, 1)
}

func TestStreamer_StreamingTimeout(t *testing.T) {
	ch := &fakeChannel{writable: false}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	msg := domain.RequestMessage{RequestID: "r6"}
	settings := domain.Settings{ResultIterationBatchSize: 10, SerializedResponseTimeout: 10}
	it := domain.NewSliceIterator([]any{1})

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	assert.ErrorIs(t, err, domain.ErrStreamingTimeout)
}

// A mid-stream serialization failure must not leave a commit behind: the
// Builder writes the SERVER_ERROR_SERIALIZATION frame itself and Stream
// aborts before ever reaching the commit-before-flush step.
func TestStreamer_SerializationFailure_AbortsBeforeCommitAndWritesOneFrame(t *testing.T) {
	ch := &fakeChannel{writable: true}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	msg := domain.RequestMessage{RequestID: "r8"}
	settings := domain.Settings{ResultIterationBatchSize: 10}
	it := domain.NewSliceIterator([]any{math.NaN()})

	err := s.Stream(context.Background(), ch, msg, it, settings, coord)
	assert.ErrorIs(t, err, domain.ErrSerialization)
	assert.Equal(t, 0, coord.commits)
	require.Len(t, ch.written, 1)
	assert.Equal(t, domain.StatusServerErrorSerial, ch.written[0].Code)
}

func TestStreamer_ContextCancelled(t *testing.T) {
	ch := &fakeChannel{writable: true}
	coord := &fakeCoordinator{channel: ch}
	s := newStreamer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := domain.RequestMessage{RequestID: "r7"}
	settings := domain.Settings{ResultIterationBatchSize: 10}
	it := domain.NewSliceIterator([]any{1, 2})

	err := s.Stream(ctx, ch, msg, it, settings, coord)
	assert.ErrorIs(t, err, domain.ErrInterrupted)
}
