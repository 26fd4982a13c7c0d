package main

import (
	"fyne.io/systray"

	"github.com/tapwire/tapwire-agent/buildinfo"
	"github.com/tapwire/tapwire-agent/protocol"
	"github.com/tapwire/tapwire-agent/server"
)

// runTray runs the desktop tray loop on the main goroutine and mirrors the
// reader events a WebSocket client would see.
func runTray(hub *server.Hub, shutdown func()) {
	onReady := func() {
		systray.SetTitle(buildinfo.DisplayName)
		systray.SetTooltip(buildinfo.Description)

		mReader := systray.AddMenuItem("Reader: ...", "Reader connection status")
		mReader.Disable()

		mCard := systray.AddMenuItem("Card: None", "Current card status")
		mCard.Disable()

		mData := systray.AddMenuItem("Last read: None", "Last data read from a card")
		mData.Disable()

		systray.AddSeparator()
		mQuit := systray.AddMenuItem("Quit", "Quit the agent")

		id, events := hub.Subscribe()

		go func() {
			defer hub.Unsubscribe(id)
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					switch ev.Type {
					case protocol.TypeReaderStatus:
						if ev.Success != nil && *ev.Success {
							mReader.SetTitle("Reader: Connected")
						} else {
							mReader.SetTitle("Reader: Disconnected")
						}
					case protocol.TypeCardStatus:
						if ev.Success != nil && *ev.Success {
							mCard.SetTitle("Card: Present")
						} else {
							mCard.SetTitle("Card: None")
						}
					case protocol.TypeDataReadSuccess:
						if ev.Data != nil {
							mData.SetTitle("Last read: " + *ev.Data)
						}
					}
				case <-mQuit.ClickedCh:
					systray.Quit()
					return
				}
			}
		}()
	}

	onExit := func() {
		shutdown()
	}

	systray.Run(onReady, onExit)
}
