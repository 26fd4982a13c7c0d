package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapwire/tapwire-agent/protocol"
)

func drain(ch <-chan protocol.Outgoing) []protocol.Outgoing {
	var out []protocol.Outgoing
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_FanOutPreservesOrder(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	_, ch1 := hub.Subscribe()
	_, ch2 := hub.Subscribe()

	for i := 0; i < 5; i++ {
		hub.Publish(protocol.DataReadSuccess(fmt.Sprintf("event-%d", i)))
	}

	for _, ch := range []<-chan protocol.Outgoing{ch1, ch2} {
		events := drain(ch)
		require.Len(t, events, 5)
		for i, ev := range events {
			assert.Equal(t, fmt.Sprintf("event-%d", i), *ev.Data)
		}
	}
}

func TestHub_SlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	_, ch := hub.Subscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(protocol.DataReadSuccess(fmt.Sprintf("event-%d", i)))
	}

	events := drain(ch)
	require.Len(t, events, subscriberBuffer)
	// The five oldest events were shed.
	assert.Equal(t, "event-5", *events[0].Data)
	assert.Equal(t, fmt.Sprintf("event-%d", subscriberBuffer+4), *events[len(events)-1].Data)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	id, ch := hub.Subscribe()
	hub.Unsubscribe(id)

	// Publishing after unsubscribe must not panic or deliver.
	hub.Publish(protocol.ReaderStatus(true))

	_, open := <-ch
	assert.False(t, open)
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	_, ch := hub.Subscribe()

	hub.Close()
	_, open := <-ch
	assert.False(t, open)

	// Subscribe after close yields a closed channel.
	_, late := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
