// Command voiceprobe logs in to a running gateway, replays one listening
// session over the voice websocket and prints the reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/internal/config"
	"github.com/satriahrh/bmschat/internal/render"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	p := newProbe(cfg.GatewayURL, nil)
	flag.StringVar(&p.gatewayURL, "gateway", p.gatewayURL, "gateway base URL")
	flag.StringVar(&p.email, "email", os.Getenv("PROBE_EMAIL"), "login email")
	flag.StringVar(&p.password, "password", os.Getenv("PROBE_PASSWORD"), "login password")
	flag.StringVar(&p.transcript, "say", "um show miner alarms", "transcript replayed in browser mode")
	flag.StringVar(&p.mode, "mode", "browser", "listening mode: browser or server")
	audioFile := flag.String("audio", "", "raw 16kHz LINEAR16 audio streamed in server mode (silence when empty)")
	flag.DurationVar(&p.timeout, "timeout", time.Minute, "time to wait for the reply")
	flag.Parse()

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	p.logger = logger

	if *audioFile != "" {
		if p.audio, err = os.ReadFile(*audioFile); err != nil {
			logger.Fatal("Failed to read audio file", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reply, err := p.run(ctx)
	if err != nil {
		logger.Fatal("Probe failed", zap.Error(err))
	}

	renderer, err := render.NewTerminalRenderer()
	if err != nil {
		logger.Fatal("Failed to initialize renderer", zap.Error(err))
	}
	fmt.Println(renderer.Render(reply.Document))
}
