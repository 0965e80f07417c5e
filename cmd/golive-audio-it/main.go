// Command golive-audio-it is a scripted integration tester for live audio
// sessions. It connects to the streaming endpoint, feeds raw PCM from a
// file (or scripted text turns), plays model audio through ffplay, and
// reports playback and token statistics at exit.
//
// Usage:
//
//	golive-audio-it --input ./hello-16k.pcm
//	golive-audio-it --config it.yaml --metrics-addr :9090
//	golive-audio-it --text "tell me a joke" --no-speaker
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
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/voxlink-go/golive/internal/dotenv"
	"github.com/voxlink-go/golive/pkg/live/audio"
	golive "github.com/voxlink-go/golive/sdk"
)

type options struct {
	configPath        string
	endpoint          string
	model             string
	voice             string
	text              string
	inputPCM          string
	resumeToken       string
	metricsAddr       string
	dumpOutputPCM     string
	noSpeaker         bool
	ffplayPath        string
	speakerVolume     int
	speakerTestToneMS int
	statsIntervalMS   int
	timeoutSec        int
	debug             bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = dotenv.Load()

	var opt options
	flag.StringVar(&opt.configPath, "config", "", "Path to YAML or JSON config (also reads GOLIVE_CONFIG)")
	flag.StringVar(&opt.endpoint, "endpoint", "", "Websocket endpoint override")
	flag.StringVar(&opt.model, "model", "", "Model name (e.g. models/gemini-2.0-flash-live-001)")
	flag.StringVar(&opt.voice, "voice", "", "Prebuilt voice name")
	flag.StringVar(&opt.text, "text", "", "Send one text turn and wait for the reply")
	flag.StringVar(&opt.inputPCM, "input", "", "Raw pcm_s16le @16kHz mono file to stream as microphone input")
	flag.StringVar(&opt.resumeToken, "resume", "", "Resume a previous session from this handle")
	flag.StringVar(&opt.metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address at /metrics")
	flag.StringVar(&opt.dumpOutputPCM, "dump-output-pcm", "", "If set, write model audio to this file (raw pcm_s16le @24kHz mono)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not spawn ffplay; still pace playback and track stats")
	flag.StringVar(&opt.ffplayPath, "ffplay-path", "ffplay", "Path to ffplay executable (default: ffplay)")
	flag.IntVar(&opt.speakerVolume, "speaker-volume", 80, "ffplay startup volume 0=min 100=max (default: 80)")
	flag.IntVar(&opt.speakerTestToneMS, "speaker-test-tone-ms", 0, "If >0, play a 440Hz test tone for this many ms at startup (debugging)")
	flag.IntVar(&opt.statsIntervalMS, "stats-interval-ms", 200, "Playback stats interval in ms (default: 200)")
	flag.IntVar(&opt.timeoutSec, "timeout", 120, "Overall run timeout in seconds (default: 120)")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadITConfig(opt.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	if strings.TrimSpace(opt.endpoint) != "" {
		cfg.Endpoint = opt.endpoint
	}
	if strings.TrimSpace(opt.model) != "" {
		cfg.Model = opt.model
	}
	if strings.TrimSpace(opt.voice) != "" {
		cfg.Voice = opt.voice
	}
	if strings.TrimSpace(opt.inputPCM) != "" {
		cfg.InputPCM = opt.inputPCM
	}
	if strings.TrimSpace(opt.text) != "" {
		cfg.Script = append(cfg.Script, opt.text)
	}
	if strings.TrimSpace(opt.metricsAddr) != "" {
		cfg.MetricsAddr = opt.metricsAddr
	}
	if strings.TrimSpace(opt.resumeToken) != "" {
		cfg.EnableResumption = true
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "GEMINI_API_KEY required (flag --help for usage)")
		return 2
	}
	if len(cfg.Script) == 0 && strings.TrimSpace(cfg.InputPCM) == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide --input, --text, or a script in the config file")
		return 2
	}
	if opt.speakerVolume < 0 || opt.speakerVolume > 100 {
		fmt.Fprintln(os.Stderr, "--speaker-volume must be between 0 and 100")
		return 2
	}
	if opt.statsIntervalMS <= 0 {
		fmt.Fprintln(os.Stderr, "--stats-interval-ms must be > 0")
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Color the transcript prefixes only when stdout is a real terminal.
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opt.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opt.timeoutSec)*time.Second)
		defer cancel()
	}

	metrics := golive.NewMetrics("golive")
	if strings.TrimSpace(cfg.MetricsAddr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	clientOpts := []golive.ClientOption{
		golive.WithLogger(logger),
		golive.WithMetrics(metrics),
	}
	if strings.TrimSpace(cfg.Endpoint) != "" {
		clientOpts = append(clientOpts, golive.WithEndpoint(cfg.Endpoint))
	}
	client := golive.NewClient(clientOpts...)

	sess := golive.NewSessionConfig(cfg.Model, "AUDIO")
	sess.Voice = cfg.Voice
	sess.SystemInstruction = cfg.SystemInstruction
	sess.EnableResumption = cfg.EnableResumption
	sess.InputTranscription = cfg.InputTranscription
	sess.OutputTranscription = cfg.OutputTranscription

	var session *golive.Session
	if strings.TrimSpace(opt.resumeToken) != "" {
		session, err = client.Resume(ctx, sess, opt.resumeToken)
	} else {
		session, err = client.Connect(ctx, sess)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}
	defer session.Close()

	playback := newPlaybackManager(playbackConfig{
		format:         audio.OutputFormat(),
		statsInterval:  time.Duration(opt.statsIntervalMS) * time.Millisecond,
		noSpeaker:      opt.noSpeaker,
		ffplayPath:     strings.TrimSpace(opt.ffplayPath),
		ffplayLogLevel: ffplayLogLevel(opt.debug),
		ffplayVolume:   opt.speakerVolume,
		debug:          opt.debug,
		dumpPath:       strings.TrimSpace(opt.dumpOutputPCM),
	})
	defer playback.Close()
	if opt.debug {
		playback.SetStatsSink(func(st playbackStats) {
			fmt.Fprintf(os.Stderr, "[debug] playback state=%s played_ms=%d buffered_ms=%d resets=%d\n",
				st.State, st.PlayedMS, st.BufferedMS, st.Resets)
		})
	}
	if opt.speakerTestToneMS > 0 {
		if err := playback.PlayTestTone(time.Duration(opt.speakerTestToneMS) * time.Millisecond); err != nil {
			fmt.Fprintln(os.Stderr, "speaker test tone failed:", err)
		}
	}

	turnDone := make(chan struct{}, 4)
	go consumeEvents(session, playback, turnDone, interactive)

	select {
	case <-session.Ready():
	case <-session.Done():
		reportExit(session)
		return 1
	case <-ctx.Done():
		return 0
	}
	fmt.Fprintf(os.Stderr, "live session connected: session_id=%s model=%s\n", session.ID(), cfg.Model)

	runErr := runScript(ctx, session, cfg, turnDone)

	// Let tail audio play out before tearing the speaker down.
	playback.Drain(5 * time.Second)
	_ = session.Close()

	report(session, playback)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "run error:", runErr)
		return 1
	}
	if err := session.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "session error:", err)
		return 1
	}
	return 0
}

func ffplayLogLevel(debug bool) string {
	if debug {
		return "info"
	}
	return "error"
}

// runScript streams the input PCM file first, then sends each scripted
// text turn, waiting for the model to finish its turn between steps.
func runScript(ctx context.Context, session *golive.Session, cfg *itConfig, turnDone <-chan struct{}) error {
	if strings.TrimSpace(cfg.InputPCM) != "" {
		if err := streamInputPCM(ctx, session, cfg.InputPCM); err != nil {
			return fmt.Errorf("stream input: %w", err)
		}
		if err := waitTurn(ctx, session, turnDone, cfg.turnTimeout()); err != nil {
			return err
		}
	}

	for _, line := range cfg.Script {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Printf("[you] %s\n", line)
		if err := session.SendText(line); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
		if err := waitTurn(ctx, session, turnDone, cfg.turnTimeout()); err != nil {
			return err
		}
	}
	return nil
}

// streamInputPCM feeds a raw 16kHz mono s16le file through the session's
// audio input at realtime pace, then signals end of stream.
func streamInputPCM(ctx context.Context, session *golive.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	format := audio.InputFormat()
	samples := audio.BytesToSamples(data)

	input, err := session.NewAudioInput(format.SampleRate, format.Channels)
	if err != nil {
		return err
	}

	// 20ms steps, matching a typical capture period.
	step := format.SampleRate / 50
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off < len(samples); off += step {
		end := off + step
		if end > len(samples) {
			end = len(samples)
		}
		if err := input.Write(samples[off:end]); err != nil {
			_ = input.Close()
			return err
		}
		select {
		case <-ctx.Done():
			_ = input.Close()
			return ctx.Err()
		case <-session.Done():
			return errors.New("session closed during input streaming")
		case <-ticker.C:
		}
	}
	return input.Close()
}

func waitTurn(ctx context.Context, session *golive.Session, turnDone <-chan struct{}, timeout time.Duration) error {
	select {
	case <-turnDone:
		return nil
	case <-session.Done():
		return errors.New("session closed before turn completed")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s waiting for turn to complete", timeout)
	}
}

func consumeEvents(session *golive.Session, playback *playbackManager, turnDone chan<- struct{}, interactive bool) {
	label := func(s string) string {
		if interactive {
			return "\x1b[36m[" + s + "]\x1b[0m"
		}
		return "[" + s + "]"
	}
	for event := range session.Events() {
		switch e := event.(type) {
		case golive.AudioEvent:
			playback.Write(e.PCM)
		case golive.InterruptedEvent:
			fmt.Printf("%s model interrupted\n", label("info"))
			playback.Reset()
		case golive.TextEvent:
			fmt.Printf("%s %s\n", label("model"), e.Text)
		case golive.InputTranscriptionEvent:
			if e.Finished {
				fmt.Printf("%s %s\n", label("stt"), e.Text)
			}
		case golive.OutputTranscriptionEvent:
			if e.Finished {
				fmt.Printf("%s %s\n", label("tts"), e.Text)
			}
		case golive.TurnCompleteEvent:
			select {
			case turnDone <- struct{}{}:
			default:
			}
		case golive.ToolCallEvent:
			for _, call := range e.Calls {
				fmt.Printf("%s unhandled tool call name=%s id=%s\n", label("warn"), call.Name, call.ID)
			}
		case golive.GoAwayEvent:
			fmt.Printf("%s server going away in %s\n", label("info"), e.TimeLeft)
		case golive.ResumedEvent:
			if e.Fallback {
				fmt.Printf("%s resumption handle expired, fresh session started\n", label("warn"))
			} else {
				fmt.Printf("%s session resumed\n", label("info"))
			}
		case golive.RetryingEvent:
			fmt.Printf("%s reconnect attempt %d in %s\n", label("info"), e.Attempt, e.Wait)
		case golive.CompressionRecommendedEvent:
			fmt.Printf("%s context at %d of %d tokens\n", label("warn"), e.TotalTokens, e.TokenBudget)
		case golive.ErrorEvent:
			fmt.Fprintf(os.Stderr, "[error] %v\n", e.Err)
		}
	}
}

func report(session *golive.Session, playback *playbackManager) {
	stats := playback.Stats()
	fmt.Println("--- run report ---")
	fmt.Printf("model audio: received=%dms played=%dms resets=%d\n", stats.ReceivedMS, stats.PlayedMS, stats.Resets)

	usage := session.Usage()
	if usage.TotalTokens > 0 {
		fmt.Printf("tokens: prompt=%d response=%d total=%d\n", usage.PromptTokens, usage.ResponseTokens, usage.TotalTokens)
		for modality, n := range usage.ByModality {
			fmt.Printf("  %s=%d\n", strings.ToLower(modality), n)
		}
	}
	if token, ok := session.ResumptionToken(); ok {
		fmt.Printf("resumption handle: %s\n", token.Handle)
	}
}

func reportExit(session *golive.Session) {
	if err := session.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "session ended:", err)
	}
}
