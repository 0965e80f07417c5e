package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/voxlink-go/golive/pkg/live/audio"
)

type playbackConfig struct {
	format        audio.Format
	statsInterval time.Duration

	noSpeaker      bool
	ffplayPath     string
	ffplayLogLevel string
	ffplayVolume   int
	debug          bool
	dumpPath       string
}

// playbackStats is a point-in-time snapshot of playback progress.
type playbackStats struct {
	State      string
	PlayedMS   int64
	ReceivedMS int64
	BufferedMS int64
	Resets     int
}

// playbackManager paces model audio into the speaker at realtime speed and
// tracks played/buffered counters. Interruptions flush everything not yet
// played so stale audio never overlaps the next turn.
type playbackManager struct {
	cfg   playbackConfig
	sched *audio.Scheduler

	mu            sync.Mutex
	playedBytes   int64
	receivedBytes int64
	resets        int
	onStats       func(playbackStats)
	dumpFile      *os.File

	speaker *ffplaySpeaker

	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	errCh chan error
}

func newPlaybackManager(cfg playbackConfig) *playbackManager {
	if cfg.format.SampleRate <= 0 {
		cfg.format = audio.OutputFormat()
	}
	if cfg.statsInterval <= 0 {
		cfg.statsInterval = 200 * time.Millisecond
	}
	if strings.TrimSpace(cfg.ffplayPath) == "" {
		cfg.ffplayPath = "ffplay"
	}
	if strings.TrimSpace(cfg.ffplayLogLevel) == "" {
		cfg.ffplayLogLevel = "error"
	}
	if cfg.ffplayVolume <= 0 {
		cfg.ffplayVolume = 80
	}

	m := &playbackManager{
		cfg:      cfg,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		errCh:    make(chan error, 1),
	}
	if !cfg.noSpeaker {
		m.speaker = newFFPlaySpeaker(cfg.ffplayPath, cfg.format, cfg.ffplayLogLevel, cfg.ffplayVolume, cfg.debug)
		if err := m.speaker.Start(); err != nil {
			m.emitErr(err)
		}
	}
	if strings.TrimSpace(cfg.dumpPath) != "" {
		f, err := os.OpenFile(cfg.dumpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			m.emitErr(err)
		} else {
			m.dumpFile = f
			fmt.Fprintf(os.Stderr, "[debug] dumping model pcm to %s (ffplay -f s16le -ar %d -ch_layout mono -i %s)\n",
				cfg.dumpPath, cfg.format.SampleRate, cfg.dumpPath)
		}
	}
	m.sched = audio.NewScheduler(cfg.format, m.play)
	go m.statsLoop()
	return m
}

func (m *playbackManager) ErrCh() <-chan error {
	if m == nil {
		ch := make(chan error)
		close(ch)
		return ch
	}
	return m.errCh
}

func (m *playbackManager) SetStatsSink(fn func(playbackStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStats = fn
}

// Write hands one model audio chunk to the scheduler. The manager owns
// pcm from this point.
func (m *playbackManager) Write(pcm []byte) {
	if m == nil || len(pcm) == 0 {
		return
	}
	m.mu.Lock()
	m.receivedBytes += int64(len(pcm))
	if m.dumpFile != nil {
		if _, err := m.dumpFile.Write(pcm); err != nil {
			m.emitErr(err)
		}
	}
	m.mu.Unlock()
	m.sched.Enqueue(pcm)
}

// play is the scheduler sink; it runs on the scheduler's delivery
// goroutine in slot order.
func (m *playbackManager) play(chunk audio.ScheduledChunk) {
	m.mu.Lock()
	m.playedBytes += int64(len(chunk.PCM))
	m.mu.Unlock()

	if m.cfg.noSpeaker || m.speaker == nil {
		return
	}
	if err := m.speaker.Write(chunk.PCM); err != nil {
		m.emitErr(err)
	}
}

// Reset discards all audio not yet played. Called when the model is
// interrupted.
func (m *playbackManager) Reset() {
	if m == nil {
		return
	}
	m.sched.Flush()

	m.mu.Lock()
	m.resets++
	stats := m.statsLocked("stopped")
	send := m.onStats
	m.mu.Unlock()

	if m.speaker != nil {
		if err := m.speaker.Restart(); err != nil {
			m.emitErr(err)
		}
	}
	if send != nil {
		send(stats)
	}
}

// Drain blocks until all scheduled audio has been handed to the speaker
// or the timeout elapses.
func (m *playbackManager) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.sched.Pending() == 0 {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return m.sched.Pending() == 0
}

func (m *playbackManager) Stats() playbackStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked("playing")
}

func (m *playbackManager) statsLocked(state string) playbackStats {
	return playbackStats{
		State:      state,
		PlayedMS:   pcmMillis(m.playedBytes, m.cfg.format),
		ReceivedMS: pcmMillis(m.receivedBytes, m.cfg.format),
		BufferedMS: m.sched.BufferedDuration().Milliseconds(),
		Resets:     m.resets,
	}
}

func (m *playbackManager) Close() error {
	if m == nil {
		return nil
	}
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.loopDone
	m.sched.Close()
	if m.speaker != nil {
		_ = m.speaker.Close()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dumpFile != nil {
		_ = m.dumpFile.Close()
		m.dumpFile = nil
	}
	return nil
}

func (m *playbackManager) PlayTestTone(d time.Duration) error {
	if m == nil || d <= 0 {
		return nil
	}
	if m.cfg.noSpeaker || m.speaker == nil {
		return fmt.Errorf("speaker disabled")
	}
	if err := m.speaker.EnsureRunning(); err != nil {
		return err
	}
	pcm := sineTonePCM16LE(440, m.cfg.format.SampleRate, d, 0.2)
	if len(pcm) == 0 {
		return nil
	}
	// Stream the tone in realtime-ish chunks to match how model audio is fed.
	tick := 20 * time.Millisecond
	step := m.cfg.format.DurationToBytes(tick)
	for off := 0; off < len(pcm); off += step {
		end := off + step
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := m.speaker.Write(pcm[off:end]); err != nil {
			return err
		}
		time.Sleep(tick)
	}
	return nil
}

func (m *playbackManager) statsLoop() {
	defer close(m.loopDone)
	ticker := time.NewTicker(m.cfg.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			send := m.onStats
			active := m.receivedBytes > 0 && (m.sched.Pending() > 0 || m.playedBytes < m.receivedBytes)
			stats := m.statsLocked("playing")
			m.mu.Unlock()
			if active && send != nil {
				send(stats)
			}
		}
	}
}

func (m *playbackManager) emitErr(err error) {
	if err == nil || m == nil {
		return
	}
	select {
	case m.errCh <- err:
	default:
	}
}

func pcmMillis(n int64, f audio.Format) int64 {
	bps := int64(f.BytesPerSecond())
	if bps <= 0 || n <= 0 {
		return 0
	}
	return (n * 1000) / bps
}

// ffplaySpeaker feeds raw PCM to an ffplay child process over stdin.
type ffplaySpeaker struct {
	path      string
	format    audio.Format
	logLevel  string
	volume    int
	debug     bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	runningMu sync.Mutex
}

func newFFPlaySpeaker(path string, format audio.Format, logLevel string, volume int, debug bool) *ffplaySpeaker {
	return &ffplaySpeaker{path: path, format: format, logLevel: logLevel, volume: volume, debug: debug}
}

func (s *ffplaySpeaker) EnsureRunning() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	return s.startLocked()
}

func (s *ffplaySpeaker) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.startLocked()
}

func (s *ffplaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	// ffplay does not accept ffmpeg-style `-ac` (channels); use `-ch_layout mono`.
	chLayout := "mono"
	if s.format.Channels == 2 {
		chLayout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", s.logLevel,
		"-nostats",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", fmt.Sprintf("%d", s.format.SampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" {
		// ffplay uses SDL for audio output on macOS. In some environments SDL
		// selects a dummy audio backend with no sound; prefer CoreAudio unless
		// the user explicitly overrides it.
		if os.Getenv("SDL_AUDIODRIVER") == "" {
			cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	if s.debug && cmd.Process != nil {
		fmt.Fprintf(os.Stderr, "[debug] ffplay started pid=%d (%s %s)\n", cmd.Process.Pid, s.path, strings.Join(args, " "))
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.runningMu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.runningMu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySpeaker) Write(p []byte) error {
	if s == nil || len(p) == 0 {
		return nil
	}
	s.runningMu.Lock()
	stdin := s.stdin
	s.runningMu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ffplay is not running")
	}
	_, err := stdin.Write(p)
	return err
}

func (s *ffplaySpeaker) Restart() error {
	if s == nil {
		return nil
	}
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	_ = s.closeLocked()
	return s.startLocked()
}

func (s *ffplaySpeaker) Close() error {
	if s == nil {
		return nil
	}
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.closeLocked()
}

func (s *ffplaySpeaker) closeLocked() error {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}

func sineTonePCM16LE(freqHz int, sampleRateHz int, d time.Duration, amp float64) []byte {
	if sampleRateHz <= 0 || d <= 0 || freqHz <= 0 {
		return nil
	}
	if amp <= 0 {
		amp = 0.2
	}
	if amp > 1.0 {
		amp = 1.0
	}
	samples := int(float64(sampleRateHz) * d.Seconds())
	if samples <= 0 {
		samples = 1
	}
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(sampleRateHz)
		v := amp * math.Sin(2*math.Pi*float64(freqHz)*t)
		s := int16(v * 32767.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
