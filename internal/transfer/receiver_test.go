package transfer_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/touchfish-chat/internal/transfer"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

type recordingListener struct {
	mu       sync.Mutex
	offers   []transfer.Offer
	progress []float64
	files    []transfer.File

	onOffer func(transfer.Offer)
}

func (l *recordingListener) FileOffered(offer transfer.Offer) {
	l.mu.Lock()
	l.offers = append(l.offers, offer)
	hook := l.onOffer
	l.mu.Unlock()
	if hook != nil {
		hook(offer)
	}
}

func (l *recordingListener) FileProgress(_ transfer.Offer, percent float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, percent)
}

func (l *recordingListener) FileReceived(file transfer.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = append(l.files, file)
}

func feed(r *transfer.Receiver, frames ...protocol.Frame) {
	for _, f := range frames {
		r.HandleFrame(f)
	}
}

func TestReceiver_AcceptAndComplete(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)

	feed(r, protocol.FileStart{Name: "notes.txt", Size: 10})
	assert.Equal(t, transfer.ReceiverOffered, r.State())
	require.Len(t, l.offers, 1)
	assert.Equal(t, "notes.txt", l.offers[0].Name)
	assert.Equal(t, int64(10), l.offers[0].Size)

	pending, ok := r.Pending()
	require.True(t, ok)
	assert.Equal(t, l.offers[0], pending)

	require.NoError(t, r.Accept())
	assert.Equal(t, transfer.ReceiverReceiving, r.State())

	feed(r,
		protocol.FileData{Data: []byte("hello")},
		protocol.FileData{Data: []byte("world")},
	)
	assert.Equal(t, int64(10), r.Received())
	assert.Equal(t, []float64{50, 100}, l.progress)

	feed(r, protocol.FileEnd{})
	assert.Equal(t, transfer.ReceiverIdle, r.State())
	require.Len(t, l.files, 1)
	assert.Equal(t, "helloworld", string(l.files[0].Data))
	assert.Equal(t, l.offers[0].ID, l.files[0].ID)

	_, ok = r.Pending()
	assert.False(t, ok)
}

func TestReceiver_CopiesChunkData(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)
	feed(r, protocol.FileStart{Name: "a", Size: 3})
	require.NoError(t, r.Accept())

	buf := []byte("abc")
	feed(r, protocol.FileData{Data: buf})
	copy(buf, "xyz")
	feed(r, protocol.FileEnd{})

	require.Len(t, l.files, 1)
	assert.Equal(t, "abc", string(l.files[0].Data))
}

func TestReceiver_AcceptFromOfferCallback(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)
	l.onOffer = func(transfer.Offer) {
		assert.NoError(t, r.Accept())
	}

	feed(r,
		protocol.FileStart{Name: "auto.bin", Size: 2},
		protocol.FileData{Data: []byte{1, 2}},
		protocol.FileEnd{},
	)
	require.Len(t, l.files, 1)
	assert.Equal(t, []byte{1, 2}, l.files[0].Data)
}

func TestReceiver_Reject(t *testing.T) {
	t.Run("reject offer then stream completes", func(t *testing.T) {
		l := &recordingListener{}
		r := transfer.NewReceiver(l, nil)

		feed(r, protocol.FileStart{Name: "big.iso", Size: 6})
		require.NoError(t, r.Reject())
		assert.Equal(t, transfer.ReceiverRejected, r.State())

		feed(r,
			protocol.FileData{Data: []byte("abc")},
			protocol.FileData{Data: []byte("def")},
		)
		assert.Zero(t, r.Received())
		assert.Empty(t, l.progress)

		feed(r, protocol.FileEnd{})
		assert.Equal(t, transfer.ReceiverIdle, r.State())
		assert.Empty(t, l.files)
	})

	t.Run("reject mid-stream drops accumulated data", func(t *testing.T) {
		l := &recordingListener{}
		r := transfer.NewReceiver(l, nil)

		feed(r, protocol.FileStart{Name: "x", Size: 6})
		require.NoError(t, r.Accept())
		feed(r, protocol.FileData{Data: []byte("abc")})
		require.NoError(t, r.Reject())
		assert.Zero(t, r.Received())

		feed(r, protocol.FileData{Data: []byte("def")}, protocol.FileEnd{})
		assert.Equal(t, transfer.ReceiverIdle, r.State())
		assert.Empty(t, l.files)
	})

	t.Run("new offer after reject", func(t *testing.T) {
		l := &recordingListener{}
		r := transfer.NewReceiver(l, nil)

		feed(r, protocol.FileStart{Name: "first", Size: 1})
		require.NoError(t, r.Reject())
		feed(r, protocol.FileStart{Name: "second", Size: 1})
		assert.Equal(t, transfer.ReceiverOffered, r.State())
		require.Len(t, l.offers, 2)
		assert.Equal(t, "second", l.offers[1].Name)
	})
}

func TestReceiver_NoOffer(t *testing.T) {
	r := transfer.NewReceiver(&recordingListener{}, nil)
	assert.ErrorIs(t, r.Accept(), transfer.ErrNoOffer)
	assert.ErrorIs(t, r.Reject(), transfer.ErrNoOffer)

	feed(r, protocol.FileStart{Name: "a", Size: 1})
	require.NoError(t, r.Accept())
	assert.ErrorIs(t, r.Accept(), transfer.ErrNoOffer, "accept twice")
}

func TestReceiver_StrayFramesWhileIdle(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)

	feed(r,
		protocol.FileData{Data: []byte("stray")},
		protocol.FileEnd{},
		protocol.UnknownFrame{Tag: "[PING]"},
	)
	assert.Equal(t, transfer.ReceiverIdle, r.State())
	assert.Zero(t, r.Received())
	assert.Empty(t, l.offers)
	assert.Empty(t, l.files)
	assert.Empty(t, l.progress)
}

func TestReceiver_SecondStartIsDiscarded(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)

	feed(r, protocol.FileStart{Name: "first", Size: 3})
	require.NoError(t, r.Accept())
	feed(r,
		protocol.FileData{Data: []byte("ab")},
		protocol.FileStart{Name: "second", Size: 99},
		protocol.FileData{Data: []byte("c")},
		protocol.FileEnd{},
	)

	require.Len(t, l.offers, 1)
	require.Len(t, l.files, 1)
	assert.Equal(t, "first", l.files[0].Name)
	assert.Equal(t, "abc", string(l.files[0].Data))
}

func TestReceiver_DataBeforeDecisionIsKept(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)

	feed(r,
		protocol.FileStart{Name: "early", Size: 6},
		protocol.FileData{Data: []byte("abc")},
	)
	assert.Empty(t, l.progress, "no progress before the decision")
	assert.Equal(t, int64(3), r.Received())

	require.NoError(t, r.Accept())
	assert.Equal(t, []float64{50}, l.progress)

	feed(r, protocol.FileData{Data: []byte("def")}, protocol.FileEnd{})

	require.Len(t, l.files, 1)
	assert.Equal(t, "abcdef", string(l.files[0].Data))
	assert.Equal(t, []float64{50, 100}, l.progress)
}

func TestReceiver_StreamEndsBeforeDecision(t *testing.T) {
	t.Run("accept delivers the held file", func(t *testing.T) {
		l := &recordingListener{}
		r := transfer.NewReceiver(l, nil)

		feed(r,
			protocol.FileStart{Name: "small.txt", Size: 2},
			protocol.FileData{Data: []byte("hi")},
			protocol.FileEnd{},
		)
		assert.Equal(t, transfer.ReceiverOffered, r.State())
		pending, ok := r.Pending()
		require.True(t, ok)
		assert.Equal(t, "small.txt", pending.Name)
		assert.Empty(t, l.files)

		// Frames after the end belong to nobody.
		feed(r, protocol.FileData{Data: []byte("stray")})

		require.NoError(t, r.Accept())
		require.Len(t, l.files, 1)
		assert.Equal(t, "hi", string(l.files[0].Data))
		assert.Equal(t, transfer.ReceiverIdle, r.State())
	})

	t.Run("empty file", func(t *testing.T) {
		l := &recordingListener{}
		r := transfer.NewReceiver(l, nil)

		feed(r, protocol.FileStart{Name: "empty", Size: 0}, protocol.FileEnd{})
		require.NoError(t, r.Accept())
		require.Len(t, l.files, 1)
		assert.Empty(t, l.files[0].Data)
	})

	t.Run("reject discards and returns to idle", func(t *testing.T) {
		l := &recordingListener{}
		r := transfer.NewReceiver(l, nil)

		feed(r,
			protocol.FileStart{Name: "spam", Size: 3},
			protocol.FileData{Data: []byte("abc")},
			protocol.FileEnd{},
		)
		require.NoError(t, r.Reject())
		assert.Equal(t, transfer.ReceiverIdle, r.State())
		assert.Zero(t, r.Received())
		assert.Empty(t, l.files)

		feed(r, protocol.FileStart{Name: "next", Size: 1})
		assert.Equal(t, transfer.ReceiverOffered, r.State())
	})
}

func TestReceiver_OverrunIsTolerated(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)

	feed(r, protocol.FileStart{Name: "liar", Size: 1})
	require.NoError(t, r.Accept())
	big := make([]byte, transfer.DefaultChunkSize+10)
	feed(r, protocol.FileData{Data: big}, protocol.FileData{Data: big}, protocol.FileEnd{})

	require.Len(t, l.files, 1)
	assert.Len(t, l.files[0].Data, 2*len(big))
	for _, p := range l.progress {
		assert.LessOrEqual(t, p, 100.0)
	}
}

func TestReceiver_Reset(t *testing.T) {
	l := &recordingListener{}
	r := transfer.NewReceiver(l, nil)
	feed(r, protocol.FileStart{Name: "a", Size: 4})
	require.NoError(t, r.Accept())
	feed(r, protocol.FileData{Data: []byte("ab")})

	r.Reset()
	assert.Equal(t, transfer.ReceiverIdle, r.State())
	assert.Zero(t, r.Received())

	feed(r, protocol.FileEnd{})
	assert.Empty(t, l.files)
}
