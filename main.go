// Package main wires the PC/SC reader service to the WebSocket gateway.
// The reader loop runs on its own goroutine because PC/SC calls block; the
// gateway fans its events out to connected clients and feeds write commands
// back through a bounded queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tapwire/tapwire-agent/buildinfo"
	"github.com/tapwire/tapwire-agent/config"
	"github.com/tapwire/tapwire-agent/logger"
	"github.com/tapwire/tapwire-agent/nfc"
	"github.com/tapwire/tapwire-agent/server"
)

var (
	configFlag  string
	trayFlag    bool
	versionFlag bool
)

func main() {
	flag.StringVar(&configFlag, "config", "", "Path to config file (optional)")
	flag.BoolVar(&trayFlag, "tray", false, "Run with a system tray status icon")
	flag.BoolVar(&versionFlag, "version", false, "Print version and exit")
	flag.Parse()

	if versionFlag {
		fmt.Printf("%s %s\n", buildinfo.Name, buildinfo.FullVersion())
		return
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.S()
	log.Infow("starting agent", "version", buildinfo.FullVersion())

	extraKeys, err := cfg.Reader.DecodedExtraKeys()
	if err != nil {
		log.Fatalw("invalid reader keys", "error", err)
	}

	hub := server.NewHub()
	svc := nfc.NewService(nfc.ServiceConfig{
		PollTimeout: time.Duration(cfg.Reader.PollTimeoutMs) * time.Millisecond,
		Keys:        nfc.KeysWithExtra(extraKeys),
	}, hub, log)

	srv := server.New(server.Config{
		Addr:       cfg.Server.Addr(),
		EnableMDNS: cfg.MDNS.Enabled,
	}, hub, svc.Commands(), log)

	go svc.Run()
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalw("server error", "error", err)
		}
	}()

	shutdown := func() {
		log.Infow("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnw("server shutdown error", "error", err)
		}
		svc.Stop()
		hub.Close()
	}

	if trayFlag {
		runTray(hub, shutdown)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	shutdown()
}
