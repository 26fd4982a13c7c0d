package nfc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"go.uber.org/zap"

	"github.com/tapwire/tapwire-agent/ndef"
	"github.com/tapwire/tapwire-agent/protocol"
)

// EventSink receives outbound events from the reader service. The Publish
// method must be callable from the service goroutine without blocking on
// slow consumers.
type EventSink interface {
	Publish(protocol.Outgoing)
}

// ServiceConfig tunes the reader service loop.
type ServiceConfig struct {
	// Establish opens the PC/SC context; defaults to EstablishContext.
	Establish EstablishFunc

	// PollTimeout bounds each GetStatusChange wait. Default 500ms.
	PollTimeout time.Duration

	// Keys is the MIFARE key dictionary. Default DefaultKeys().
	Keys [][6]byte

	// EstablishRetryDelay is slept after a failed context establish. Default 3s.
	EstablishRetryDelay time.Duration

	// RecoveryDelay is slept after the PC/SC service dies before
	// re-establishing. Default 1s.
	RecoveryDelay time.Duration

	// TransientRetryDelay is slept after non-fatal PC/SC errors. Default 100ms.
	TransientRetryDelay time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.Establish == nil {
		c.Establish = EstablishContext
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 500 * time.Millisecond
	}
	if len(c.Keys) == 0 {
		c.Keys = DefaultKeys()
	}
	if c.EstablishRetryDelay <= 0 {
		c.EstablishRetryDelay = 3 * time.Second
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = time.Second
	}
	if c.TransientRetryDelay <= 0 {
		c.TransientRetryDelay = 100 * time.Millisecond
	}
}

// Service is the long-running reader event loop: it owns the PC/SC context
// lifecycle, tracks reader plug/unplug through the PnP sentinel, turns
// per-reader card-present edges into read attempts, and executes write
// commands pushed by the gateway. All mutable state is owned by the Run
// goroutine; the rest of the process only observes it through events.
type Service struct {
	cfg      ServiceConfig
	commands chan Command
	sink     EventSink
	log      *zap.SugaredLogger

	stop     chan struct{}
	stopOnce sync.Once

	// State below is touched only by the Run goroutine.
	readerNames     []string
	states          []scard.ReaderState
	readerConnected bool
	cardPresent     bool
	lastDataRead    *string
}

// NewService creates a reader service publishing to sink.
func NewService(cfg ServiceConfig, sink EventSink, log *zap.SugaredLogger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		commands: make(chan Command, 32),
		sink:     sink,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Commands returns the queue the gateway pushes commands into.
func (s *Service) Commands() chan<- Command {
	return s.commands
}

// Stop signals the Run loop to exit after the current tick.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run drives the outer recovery loop: establish the PC/SC context, run the
// inner processing loop until the resource manager dies, then back off and
// re-establish. It blocks until Stop is called and should run on its own
// goroutine since PC/SC calls block.
func (s *Service) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		ctx, err := s.cfg.Establish()
		if err != nil {
			s.log.Errorw("failed to establish PC/SC context", "error", err)
			if s.readerConnected {
				s.sink.Publish(protocol.ReaderError(err.Error()))
				s.readerConnected = false
			}
			s.sleep(s.cfg.EstablishRetryDelay)
			continue
		}

		s.runContext(ctx)
		if err := ctx.Release(); err != nil {
			s.log.Debugw("context release failed", "error", err)
		}

		select {
		case <-s.stop:
			return
		default:
			s.sleep(s.cfg.RecoveryDelay)
		}
	}
}

// runContext is the inner processing loop over one established context. It
// returns when the resource manager reports a fatal error, handing control
// back to the recovery loop.
func (s *Service) runContext(ctx Context) {
	// Index 0 is permanently the PnP sentinel.
	s.states = []scard.ReaderState{{
		Reader:       pnpNotificationReader,
		CurrentState: scard.StateUnaware,
	}}

	// Initial enumeration so readers present at startup are reported
	// without waiting for a plug/unplug event.
	s.enumerateReaders(ctx)
	s.sink.Publish(protocol.ReaderStatus(s.readerConnected))

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		err := ctx.GetStatusChange(s.states, s.cfg.PollTimeout)
		switch {
		case err == nil || errors.Is(err, scard.ErrTimeout):
			// Timeout is the expected idle outcome.
		case errors.Is(err, scard.ErrServiceStopped) || errors.Is(err, scard.ErrNoService):
			s.log.Errorw("PC/SC resource manager lost", "error", err)
			s.sink.Publish(protocol.ReaderError(err.Error()))
			return
		case errors.Is(err, scard.ErrCancelled):
			return
		default:
			s.log.Warnw("status change wait failed", "error", err)
			s.drainCommands(ctx)
			s.sleep(s.cfg.TransientRetryDelay)
			continue
		}

		s.drainCommands(ctx)
		s.handlePnPEvent(ctx)
		s.handleCardEvents(ctx)
	}
}

// sleep waits for d unless the service is stopped first.
func (s *Service) sleep(d time.Duration) {
	select {
	case <-s.stop:
	case <-time.After(d):
	}
}

// enumerateReaders refreshes the reader name list and rebuilds the state
// vector behind the PnP sentinel. Enumeration failure is non-fatal and cached
// as "no readers connected".
func (s *Service) enumerateReaders(ctx Context) {
	names, err := ctx.ListReaders()
	if err != nil {
		if !errors.Is(err, scard.ErrNoReadersAvailable) {
			s.log.Warnw("failed to list readers", "error", err)
		}
		names = nil
	}

	s.readerNames = names
	s.states = s.states[:1]
	for _, name := range names {
		s.states = append(s.states, scard.ReaderState{
			Reader:       name,
			CurrentState: scard.StateUnaware,
		})
	}
	s.readerConnected = len(names) > 0
}

// handlePnPEvent processes a state change on the PnP sentinel: acknowledge,
// re-enumerate and report connectivity transitions.
func (s *Service) handlePnPEvent(ctx Context) {
	pnp := &s.states[0]
	if pnp.EventState&scard.StateChanged == 0 {
		return
	}
	s.log.Infow("reader hardware change detected")
	pnp.CurrentState = pnp.EventState &^ scard.StateChanged

	wasConnected := s.readerConnected
	s.enumerateReaders(ctx)
	if s.readerConnected != wasConnected {
		s.sink.Publish(protocol.ReaderStatus(s.readerConnected))
	}

	// A reader unplugged with a card on it never delivers a removal edge.
	if !s.readerConnected && s.cardPresent {
		s.cardPresent = false
		s.lastDataRead = nil
	}
}

// handleCardEvents walks the physical reader states and reacts to
// card-present edges.
func (s *Service) handleCardEvents(ctx Context) {
	for i := 1; i < len(s.states); i++ {
		st := &s.states[i]
		if st.EventState&scard.StateChanged == 0 {
			continue
		}

		isPresent := st.EventState&scard.StatePresent != 0
		wasPresent := st.CurrentState&scard.StatePresent != 0
		st.CurrentState = st.EventState &^ scard.StateChanged

		switch {
		case isPresent && !wasPresent && !s.cardPresent:
			s.cardPresent = true
			s.handleCardInsertion(ctx, st.Reader)
		case !isPresent && wasPresent && s.cardPresent:
			s.log.Infow("card removed", "reader", st.Reader)
			s.cardPresent = false
			s.lastDataRead = nil
			s.sink.Publish(protocol.CardStatus(false, "Card removed!"))
		}
	}
}

// handleCardInsertion connects to the freshly inserted card, reads its NDEF
// content and reports it. A repeat read of identical content while the card
// rests on the reader is suppressed.
func (s *Service) handleCardInsertion(ctx Context, readerName string) {
	s.log.Infow("card inserted", "reader", readerName)
	s.sink.Publish(protocol.CardStatus(true, "Card detected!"))

	card, err := ctx.Connect(readerName)
	if err != nil {
		s.log.Errorw("failed to connect to card", "reader", readerName, "error", err)
		s.sink.Publish(protocol.DataReadError(err.Error()))
		return
	}
	defer card.Disconnect()

	family, err := s.cardFamily(card)
	if err != nil {
		s.sink.Publish(protocol.DataReadError(err.Error()))
		return
	}

	var text string
	switch family {
	case FamilyMifareClassic1K:
		raw, rerr := ReadClassic(card, s.cfg.Keys)
		if rerr != nil {
			s.sink.Publish(protocol.DataReadError(rerr.Error()))
			return
		}
		text, err = ndef.DecodeText(raw)
	default:
		msg, rerr := ReadType2(card)
		if rerr != nil {
			if errors.Is(rerr, ErrNoNDEFContainer) {
				s.sink.Publish(protocol.DataReadError("Empty/Non-NDEF"))
			} else {
				s.sink.Publish(protocol.DataReadError(rerr.Error()))
			}
			return
		}
		text, err = ndef.MessageText(msg)
	}
	if err != nil {
		s.sink.Publish(protocol.DataReadError("Empty/Non-NDEF"))
		return
	}

	if s.lastDataRead == nil || *s.lastDataRead != text {
		s.lastDataRead = &text
		s.sink.Publish(protocol.DataReadSuccess(text))
	}
}

// cardFamily probes the ATR of a connected card and maps it to a tag family.
func (s *Service) cardFamily(card Card) (Family, error) {
	status, err := card.Status()
	if err != nil {
		return FamilyUnknown, &Error{Code: ErrCodeCardConnect, Op: "Status", Message: "failed to get card status", Cause: err}
	}
	return DetectFamily(status.Atr)
}

// drainCommands processes every command queued by the gateway without
// blocking the tick.
func (s *Service) drainCommands(ctx Context) {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd.Kind {
			case CommandCheckReaderStatus:
				s.sink.Publish(protocol.ReaderStatus(s.readerConnected))
			case CommandWriteData:
				s.handleWrite(ctx, cmd.Payloads)
			}
		default:
			return
		}
	}
}

// handleWrite encodes the requested records and writes them to the card on
// the first reader that yields a handle.
func (s *Service) handleWrite(ctx Context, payloadsJSON string) {
	payloads, err := protocol.ParseWritePayloads(payloadsJSON)
	if err != nil {
		s.log.Warnw("invalid write payloads", "error", err)
		s.sink.Publish(protocol.DataWriteError("Invalid write payload"))
		return
	}
	if len(payloads) == 0 {
		s.sink.Publish(protocol.DataWriteError("Empty write payload"))
		return
	}

	records := make([]ndef.Record, 0, len(payloads))
	for _, p := range payloads {
		switch p.DataType {
		case protocol.DataTypeText:
			records = append(records, ndef.NewTextRecord(p.Content))
		case protocol.DataTypeURL:
			records = append(records, ndef.NewURIRecord(p.Content))
		case protocol.DataTypeApp:
			records = append(records, ndef.NewAndroidAppRecord(p.Content))
		default:
			s.sink.Publish(protocol.DataWriteError(fmt.Sprintf("Unsupported data type: %s", p.DataType)))
			return
		}
	}

	msg, err := ndef.EncodeMessage(records)
	if err != nil {
		s.sink.Publish(protocol.DataWriteError(err.Error()))
		return
	}
	tlv := ndef.WrapTLV(msg)

	if len(s.readerNames) == 0 {
		s.sink.Publish(protocol.DataWriteError("No reader connected"))
		return
	}

	for _, name := range s.readerNames {
		card, err := ctx.Connect(name)
		if err != nil {
			continue
		}
		s.writeCard(card, tlv)
		card.Disconnect()
		return
	}
	s.sink.Publish(protocol.DataWriteError("No card found on reader"))
}

// writeCard dispatches the per-family write for one connected card.
func (s *Service) writeCard(card Card, tlv []byte) {
	family, err := s.cardFamily(card)
	if err != nil {
		s.sink.Publish(protocol.DataWriteError(err.Error()))
		return
	}

	switch family {
	case FamilyMifareClassic1K:
		err = WriteClassic(card, s.cfg.Keys, tlv)
	default:
		err = WriteType2(card, tlv)
	}

	if err != nil {
		s.sink.Publish(protocol.DataWriteError(err.Error()))
		return
	}
	s.sink.Publish(protocol.DataWriteSuccess("Data Written Successfully!"))
}
