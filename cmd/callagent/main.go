// Command callagent runs the appliance-service voice call agent: it streams
// microphone audio to a realtime speech model, plays the agent's synthesised
// voice back through the speakers, and prints live transcripts of both sides
// of the call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lkw0831/HomeApplianceService/internal/call"
	"github.com/lkw0831/HomeApplianceService/internal/config"
	"github.com/lkw0831/HomeApplianceService/internal/health"
	"github.com/lkw0831/HomeApplianceService/internal/observe"
	"github.com/lkw0831/HomeApplianceService/internal/transcript"
	"github.com/lkw0831/HomeApplianceService/pkg/audio/device"
	"github.com/lkw0831/HomeApplianceService/pkg/live"
	"github.com/lkw0831/HomeApplianceService/pkg/live/gemini"
	"github.com/lkw0831/HomeApplianceService/pkg/live/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callagent: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callagent: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("callagent starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Live.Provider,
		"model", cfg.Live.Model,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio devices ─────────────────────────────────────────────────────────
	host, err := device.NewPortAudioHost()
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}
	defer host.Close()

	// ── Session ───────────────────────────────────────────────────────────────
	session := call.NewSession(buildDialer(cfg.Live), host,
		live.SessionConfig{
			Model:        cfg.Live.Model,
			Voice:        cfg.Live.Voice,
			Instructions: cfg.Live.Instructions,
		},
		call.WithCaptureBlock(cfg.Audio.CaptureBlock),
		call.WithConnectTimeout(cfg.Live.ConnectTimeout.Std()),
	)

	// ── Diagnostics server: health probes + Prometheus metrics ────────────────
	channelReady := health.NewFlag("channel", errors.New("call not established"))
	mux := http.NewServeMux()
	health.New(channelReady.Checker()).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("diagnostics endpoint ready", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		defer stop() // ending the call ends the process
		return runCall(gctx, session, channelReady)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runCall connects the session and blocks until the call ends or ctx is
// cancelled. The session is always disconnected before returning.
func runCall(ctx context.Context, session *call.Session, ready *health.Flag) error {
	printer := newTranscriptPrinter(os.Stdout)
	ended := make(chan error, 1)
	finish := func(err error) {
		select {
		case ended <- err:
		default:
		}
	}

	cb := call.Callbacks{
		OnOpen: func() {
			ready.Set(true)
			slog.Info("call established — speak into the microphone")
		},
		OnClose: func() {
			ready.Set(false)
			finish(nil)
		},
		OnError: func(err error) {
			ready.Set(false)
			finish(err)
		},
		OnTranscript: printer.print,
		OnVolume: func(v float64) {
			slog.Debug("mic level", "rms", fmt.Sprintf("%.3f", v))
		},
	}

	if err := session.Connect(ctx, cb); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		session.Disconnect()
		return ctx.Err()
	case err := <-ended:
		session.Disconnect()
		return err
	}
}

// buildDialer constructs the provider dialer selected by the config.
func buildDialer(cfg config.LiveConfig) live.Dialer {
	switch cfg.Provider {
	case config.ProviderOpenAIRealtime:
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, opts...)
	default:
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, opts...)
	}
}

// transcriptPrinter renders streaming transcripts: partial fragments
// overwrite the current line, final utterances are committed with a newline.
type transcriptPrinter struct {
	mu  sync.Mutex
	out *os.File
}

func newTranscriptPrinter(out *os.File) *transcriptPrinter {
	return &transcriptPrinter{out: out}
}

func (p *transcriptPrinter) print(text string, speaker transcript.Speaker, final bool) {
	label := "客户"
	if speaker == transcript.SpeakerAgent {
		label = "客服"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if final {
		fmt.Fprintf(p.out, "\r\033[K%s: %s\n", label, text)
	} else {
		fmt.Fprintf(p.out, "\r\033[K%s: %s", label, text)
	}
}
