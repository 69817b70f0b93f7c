// Mevy - duplex voice call with an English-speaking companion over the
// Gemini Live API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-mevy/internal/config"
	"github.com/teslashibe/go-mevy/internal/httpc"
	"github.com/teslashibe/go-mevy/internal/log"
	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/call/gemini"
	"github.com/teslashibe/go-mevy/pkg/metrics"
	"github.com/teslashibe/go-mevy/pkg/transcript"
	"github.com/teslashibe/go-mevy/pkg/web"
)

type options struct {
	configPath  string
	listDevices bool
	debug       bool
}

func main() {
	cfg, opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	if opts.listDevices {
		if err := listDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("call failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and applies command line overrides.
func parseFlags() (*config.Config, options, error) {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	name := flag.String("name", "", "How the agent addresses you")
	voice := flag.String("voice", "", "Agent voice: Kore, Puck, Fenrir, Aoede, Charon")
	mode := flag.String("mode", "", "Learning mode: casual, tutoring, drill")
	adult := flag.Bool("adult", false, "Confirm you are 18 or older")
	transport := flag.String("transport", "", "Live API client: genai or websocket")
	backend := flag.String("backend", "", "Audio backend: auto, portaudio, miniaudio, mock")
	httpAddr := flag.String("http", "", "Serve the dashboard on this address (e.g. :8090)")
	rtpAddr := flag.String("rtp", "", "Send agent audio as Opus/RTP to host:port instead of the speaker")
	flag.BoolVar(&opts.listDevices, "list-devices", false, "List audio devices and exit")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, opts, err
	}

	if *name != "" {
		cfg.Session.UserName = *name
	}
	if *voice != "" {
		v, err := call.ParseVoice(*voice)
		if err != nil {
			return nil, opts, err
		}
		cfg.Session.Voice = v
	}
	if *mode != "" {
		m, err := call.ParseMode(*mode)
		if err != nil {
			return nil, opts, err
		}
		cfg.Session.Mode = m
	}
	if *adult {
		cfg.Session.AgeGated = true
	}
	if *transport != "" {
		cfg.Transport.Kind = *transport
	}
	if *backend != "" {
		cfg.Audio.Input.Backend = audioio.Backend(*backend)
		cfg.Audio.Output.Backend = audioio.Backend(*backend)
	}
	if *httpAddr != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = *httpAddr
	}
	if *rtpAddr != "" {
		cfg.Audio.Output.Backend = audioio.BackendRTP
		cfg.Audio.Output.Device = *rtpAddr
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, opts, nil
}

func listDevices() error {
	devices, err := audioio.ListDevices()
	if err != nil {
		return err
	}
	fmt.Printf("🎧 %d audio devices (backends: %v)\n", len(devices), audioio.AvailableBackends())
	for _, d := range devices {
		fmt.Printf("  %-40s in=%d out=%d %.0fHz [%s]\n",
			d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, d.HostAPI)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	src, err := audioio.NewSource(cfg.Audio.Input, logger.With("component", "audio"))
	if err != nil {
		return fmt.Errorf("audio input: %w", err)
	}
	defer src.Close()

	sink, err := audioio.NewSink(cfg.Audio.Output, logger.With("component", "audio"))
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer sink.Close()

	dialer, err := newDialer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var dash *web.Server
	if cfg.HTTP.Enabled {
		dash = web.NewServer(cfg.HTTP.Addr, m, logger)
		dash.StartAsync()
		defer dash.Shutdown()
	}

	cb := printer()
	if dash != nil {
		cb = dash.Callbacks(cb)
	}

	sess, err := call.New(cfg.Session, dialer, src, sink,
		call.WithLogger(logger),
		call.WithMetrics(m),
		call.WithCallbacks(cb),
	)
	if err != nil {
		return err
	}
	if dash != nil {
		dash.Attach(sess)
	}

	// Hang up on Ctrl+C, including while the call is still connecting.
	go func() {
		select {
		case <-ctx.Done():
			sess.Disconnect()
		case <-sess.Done():
		}
	}()

	fmt.Printf("📞 Calling Mevy as %s (voice %s, %s mode)...\n",
		cfg.Session.UserName, cfg.Session.Voice, cfg.Session.Mode)
	if err := sess.Connect(context.Background()); err != nil {
		if errors.Is(err, call.ErrSessionClosed) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	fmt.Println("✅ Connected, start talking (Ctrl+C to hang up)")

	<-sess.Done()
	return sess.Err()
}

func newDialer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (call.Dialer, error) {
	gcfg := gemini.Config{
		APIKey:           cfg.Transport.APIKey,
		Endpoint:         cfg.Transport.Endpoint,
		HTTPClient:       httpc.Client,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		Logger:           logger.With("component", "gemini"),
	}
	if gcfg.APIKey == "" && cfg.Transport.UseADC {
		ts, err := gemini.DefaultTokenSource(ctx)
		if err != nil {
			return nil, err
		}
		gcfg.TokenSource = ts
	}
	return gemini.NewDialer(ctx, cfg.Transport.Kind, gcfg)
}

// printer writes the conversation to the terminal.
func printer() call.Callbacks {
	return call.Callbacks{
		OnTranscript: func(speaker transcript.Speaker, text string, isFinal bool) {
			if !isFinal || strings.TrimSpace(text) == "" {
				return
			}
			fmt.Printf("%s %s\n", label(speaker), text)
		},
		OnError: func(err error) {
			fmt.Printf("⚠️  Call ended with error: %v\n", err)
		},
		OnSessionEnded: func(durationSeconds int, turns []transcript.Turn) {
			fmt.Printf("\n📴 Call ended after %s, %d turns\n",
				time.Duration(durationSeconds)*time.Second, len(turns))
			for _, t := range turns {
				fmt.Printf("  %s %s\n", label(t.Speaker), t.Text)
			}
		},
	}
}

func label(s transcript.Speaker) string {
	if s == transcript.SpeakerAgent {
		return "🤖 Mevy:"
	}
	return "🗣  You: "
}
