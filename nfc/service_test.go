package nfc

import (
	"sync"
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tapwire/tapwire-agent/ndef"
	"github.com/tapwire/tapwire-agent/protocol"
)

// fakeCard adapts a mock tag to the Card interface.
type fakeCard struct {
	tr  Transmitter
	atr []byte
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) { return c.tr.Transmit(cmd) }
func (c *fakeCard) Status() (*scard.CardStatus, error)  { return &scard.CardStatus{Atr: c.atr}, nil }
func (c *fakeCard) Disconnect() error                   { return nil }

// fakeContext replays scripted status-change ticks. All methods run on the
// service goroutine, so the script may mutate the context freely.
type fakeContext struct {
	readers  []string
	card     Card
	ticks    []func(states []scard.ReaderState) error
	released bool
}

func (f *fakeContext) ListReaders() ([]string, error) {
	return f.readers, nil
}

func (f *fakeContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	if len(f.ticks) == 0 {
		time.Sleep(time.Millisecond)
		return scard.ErrTimeout
	}
	tick := f.ticks[0]
	f.ticks = f.ticks[1:]
	return tick(states)
}

func (f *fakeContext) Connect(reader string) (Card, error) {
	if f.card == nil {
		return nil, scard.ErrNoSmartcard
	}
	return f.card, nil
}

func (f *fakeContext) Release() error {
	f.released = true
	return nil
}

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []protocol.Outgoing
}

func (c *captureSink) Publish(ev protocol.Outgoing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) snapshot() []protocol.Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Outgoing(nil), c.events...)
}

func (c *captureSink) waitFor(t *testing.T, n int) []protocol.Outgoing {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := c.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	events := c.snapshot()
	require.GreaterOrEqual(t, len(events), n, "timed out waiting for %d events, got %v", n, events)
	return events
}

func testServiceConfig(establish EstablishFunc) ServiceConfig {
	return ServiceConfig{
		Establish:           establish,
		PollTimeout:         time.Millisecond,
		EstablishRetryDelay: time.Millisecond,
		RecoveryDelay:       time.Millisecond,
		TransientRetryDelay: time.Millisecond,
	}
}

func startService(t *testing.T, ctx Context) (*Service, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	svc := NewService(testServiceConfig(func() (Context, error) { return ctx, nil }), sink, zap.NewNop().Sugar())
	go svc.Run()
	t.Cleanup(svc.Stop)
	return svc, sink
}

func helloType2Card(t *testing.T) *fakeCard {
	t.Helper()
	tag := newMockType2Card(64)
	msg, err := ndef.EncodeMessage([]ndef.Record{ndef.NewTextRecord("hello")})
	require.NoError(t, err)
	require.NoError(t, WriteType2(tag, ndef.WrapTLV(msg)))
	return &fakeCard{tr: tag, atr: storageATR(0x0003, 0x68)}
}

func insertTick(states []scard.ReaderState) error {
	states[1].EventState = scard.StateChanged | scard.StatePresent
	return nil
}

func removeTick(states []scard.ReaderState) error {
	states[1].EventState = scard.StateChanged | scard.StateEmpty
	return nil
}

func TestService_InsertReadRemoveCycle(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{"Fake Reader"},
		card:    helloType2Card(t),
		ticks: []func([]scard.ReaderState) error{
			insertTick,
			removeTick,
		},
	}

	_, sink := startService(t, ctx)
	events := sink.waitFor(t, 4)[:4]

	assert.Equal(t, protocol.TypeReaderStatus, events[0].Type)
	assert.True(t, *events[0].Success)

	assert.Equal(t, protocol.TypeCardStatus, events[1].Type)
	assert.True(t, *events[1].Success)
	assert.Equal(t, "Card detected!", events[1].Message)

	assert.Equal(t, protocol.TypeDataReadSuccess, events[2].Type)
	assert.Equal(t, "hello", *events[2].Data)

	assert.Equal(t, protocol.TypeCardStatus, events[3].Type)
	assert.False(t, *events[3].Success)
	assert.Equal(t, "Card removed!", events[3].Message)
}

func TestService_RepeatPresenceDoesNotReRead(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{"Fake Reader"},
		card:    helloType2Card(t),
		ticks: []func([]scard.ReaderState) error{
			insertTick,
			insertTick, // state churn while the card rests on the reader
			removeTick,
		},
	}

	_, sink := startService(t, ctx)
	events := sink.waitFor(t, 4)

	var detected, reads, removed int
	for _, ev := range events {
		switch {
		case ev.Type == protocol.TypeCardStatus && *ev.Success:
			detected++
		case ev.Type == protocol.TypeDataReadSuccess:
			reads++
		case ev.Type == protocol.TypeCardStatus && !*ev.Success:
			removed++
		}
	}
	assert.Equal(t, 1, detected)
	assert.Equal(t, 1, reads)
	assert.Equal(t, 1, removed)
}

func TestService_DeduplicationResetsOnRemoval(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{"Fake Reader"},
		card:    helloType2Card(t),
		ticks: []func([]scard.ReaderState) error{
			insertTick, removeTick,
			insertTick, removeTick,
		},
	}

	_, sink := startService(t, ctx)
	events := sink.waitFor(t, 7)

	var reads int
	for _, ev := range events {
		if ev.Type == protocol.TypeDataReadSuccess {
			reads++
			assert.Equal(t, "hello", *ev.Data)
		}
	}
	assert.Equal(t, 2, reads)
}

func TestService_ReaderUnplugReplug(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Fake Reader"}}
	ctx.ticks = []func([]scard.ReaderState) error{
		func(states []scard.ReaderState) error {
			ctx.readers = nil
			states[0].EventState = scard.StateChanged
			return nil
		},
		func(states []scard.ReaderState) error {
			ctx.readers = []string{"Fake Reader"}
			states[0].EventState = scard.StateChanged
			return nil
		},
	}

	_, sink := startService(t, ctx)
	events := sink.waitFor(t, 3)[:3]

	for i, connected := range []bool{true, false, true} {
		assert.Equal(t, protocol.TypeReaderStatus, events[i].Type)
		assert.Equal(t, connected, *events[i].Success, "event %d", i)
	}
}

func TestService_RecoveryAfterServiceStopped(t *testing.T) {
	ctx1 := &fakeContext{
		readers: []string{"Fake Reader"},
		ticks: []func([]scard.ReaderState) error{
			func([]scard.ReaderState) error { return scard.ErrServiceStopped },
		},
	}
	ctx2 := &fakeContext{readers: []string{"Fake Reader"}}

	established := 0
	sink := &captureSink{}
	svc := NewService(testServiceConfig(func() (Context, error) {
		established++
		if established == 1 {
			return ctx1, nil
		}
		return ctx2, nil
	}), sink, zap.NewNop().Sugar())
	go svc.Run()
	t.Cleanup(svc.Stop)

	events := sink.waitFor(t, 3)[:3]

	assert.Equal(t, protocol.TypeReaderStatus, events[0].Type)
	assert.Equal(t, protocol.TypeReaderError, events[1].Type)
	assert.NotEmpty(t, events[1].Error)
	assert.Equal(t, protocol.TypeReaderStatus, events[2].Type)
	assert.True(t, *events[2].Success)
	assert.True(t, ctx1.released)
}

func TestService_CheckReaderStatusCommand(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Fake Reader"}}
	svc, sink := startService(t, ctx)

	sink.waitFor(t, 1)
	svc.Commands() <- Command{Kind: CommandCheckReaderStatus}

	events := sink.waitFor(t, 2)[:2]
	assert.Equal(t, protocol.TypeReaderStatus, events[1].Type)
	assert.True(t, *events[1].Success)
}

func TestService_WriteCommand(t *testing.T) {
	tag := newMockType2Card(64)
	ctx := &fakeContext{
		readers: []string{"Fake Reader"},
		card:    &fakeCard{tr: tag, atr: storageATR(0x0003, 0x68)},
	}
	svc, sink := startService(t, ctx)

	sink.waitFor(t, 1)
	svc.Commands() <- Command{
		Kind:     CommandWriteData,
		Payloads: `[{"data_type":"TEXT","content":"hello"}]`,
	}

	events := sink.waitFor(t, 2)[:2]
	assert.Equal(t, protocol.TypeDataWriteSuccess, events[1].Type)
	assert.Equal(t, "Data Written Successfully!", events[1].Message)

	expected := []byte{
		0x03, 0x0C, 0xD1, 0x01, 0x08, 0x54, 0x02, 0x65,
		0x6E, 0x68, 0x65, 0x6C, 0x6C, 0x6F, 0xFE, 0x00,
	}
	assert.Equal(t, expected, tag.memory[16:32])
}

func TestService_WriteMultiRecordCommand(t *testing.T) {
	tag := newMockType2Card(64)
	ctx := &fakeContext{
		readers: []string{"Fake Reader"},
		card:    &fakeCard{tr: tag, atr: storageATR(0x0003, 0x68)},
	}
	svc, sink := startService(t, ctx)

	sink.waitFor(t, 1)
	svc.Commands() <- Command{
		Kind:     CommandWriteData,
		Payloads: `[{"data_type":"TEXT","content":"hello"},{"data_type":"URL","content":"example.com"}]`,
	}

	events := sink.waitFor(t, 2)[:2]
	require.Equal(t, protocol.TypeDataWriteSuccess, events[1].Type)

	msg, err := ReadType2(tag)
	require.NoError(t, err)
	records, err := ndef.ParseMessage(msg)
	require.NoError(t, err)
	require.Len(t, records, 2)

	text, err := records[0].Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	uri, err := records[1].URI()
	require.NoError(t, err)
	assert.Equal(t, "example.com", uri)
}

func TestService_WriteWithoutReader(t *testing.T) {
	ctx := &fakeContext{}
	svc, sink := startService(t, ctx)

	sink.waitFor(t, 1)
	svc.Commands() <- Command{
		Kind:     CommandWriteData,
		Payloads: `[{"data_type":"TEXT","content":"hello"}]`,
	}

	events := sink.waitFor(t, 2)[:2]
	assert.Equal(t, protocol.TypeReaderStatus, events[0].Type)
	assert.False(t, *events[0].Success)
	assert.Equal(t, protocol.TypeDataWriteError, events[1].Type)
	assert.Equal(t, "No reader connected", events[1].Error)
}

func TestService_WriteInvalidPayloads(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Fake Reader"}}
	svc, sink := startService(t, ctx)

	sink.waitFor(t, 1)
	svc.Commands() <- Command{Kind: CommandWriteData, Payloads: `not json`}

	events := sink.waitFor(t, 2)[:2]
	assert.Equal(t, protocol.TypeDataWriteError, events[1].Type)
}

func TestService_EmptyCardReadError(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{"Fake Reader"},
		card:    &fakeCard{tr: newMockType2Card(64), atr: storageATR(0x0003, 0x68)},
		ticks:   []func([]scard.ReaderState) error{insertTick},
	}

	_, sink := startService(t, ctx)
	events := sink.waitFor(t, 3)[:3]

	assert.Equal(t, protocol.TypeDataReadError, events[2].Type)
	assert.Equal(t, "Empty/Non-NDEF", events[2].Error)
}
