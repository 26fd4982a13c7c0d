package nfc

import (
	"time"

	"github.com/ebfe/scard"
)

// pnpNotificationReader is the pseudo-reader whose state changes signal
// reader hardware add/remove events.
const pnpNotificationReader = `\\?PnP?\Notification`

// Context abstracts the PC/SC resource manager operations the reader service
// consumes, so the event loop can run against a fake in tests.
type Context interface {
	ListReaders() ([]string, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Connect(reader string) (Card, error)
	Release() error
}

// Card abstracts a transient card handle over a reader.
type Card interface {
	Transmitter
	Status() (*scard.CardStatus, error)
	Disconnect() error
}

// EstablishFunc opens a PC/SC context.
type EstablishFunc func() (Context, error)

// EstablishContext opens the real PC/SC resource manager.
func EstablishContext() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &scardContext{ctx: ctx}, nil
}

type scardContext struct {
	ctx *scard.Context
}

func (c *scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *scardContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return c.ctx.GetStatusChange(states, timeout)
}

func (c *scardContext) Connect(reader string) (Card, error) {
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	return &scardCard{card: card}, nil
}

func (c *scardContext) Release() error {
	return c.ctx.Release()
}

type scardCard struct {
	card *scard.Card
}

func (c *scardCard) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *scardCard) Status() (*scard.CardStatus, error) {
	return c.card.Status()
}

func (c *scardCard) Disconnect() error {
	return c.card.Disconnect(scard.LeaveCard)
}
