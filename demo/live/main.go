// Package main provides a minimal CLI demo for live voice conversations.
//
// It opens a bidirectional streaming session, feeds microphone audio in,
// and plays model audio out with barge-in handled automatically.
//
// Usage:
//
//	go run demo/live/main.go
//
// Environment variables:
//
//	GEMINI_API_KEY - Required
//
// Controls:
//
//	/t <text>   - Send text message
//	q           - Quit the demo
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voxlink-go/golive/pkg/live/audio"
	golive "github.com/voxlink-go/golive/sdk"
)

const defaultModel = "models/gemini-2.0-flash-live-001"

func main() {
	_ = godotenv.Load()

	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Fatal("GEMINI_API_KEY required")
	}

	model := os.Getenv("GOLIVE_MODEL")
	if model == "" {
		model = defaultModel
	}

	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  Live Voice Demo                           ║")
	fmt.Println("╠════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Speak naturally - automatic turn detection is enabled.    ║")
	fmt.Println("║  Interrupt the model any time by talking over it.          ║")
	fmt.Println("║                                                            ║")
	fmt.Println("║  Commands:                                                 ║")
	fmt.Println("║    /t <text>   Send text message                           ║")
	fmt.Println("║    q           Quit                                        ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	client := golive.NewClient()

	cfg := golive.NewSessionConfig(model, "AUDIO")
	cfg.SystemInstruction = "You are in a live voice conversation. Keep replies short and conversational."
	cfg.EnableResumption = true
	cfg.InputTranscription = true
	cfg.OutputTranscription = true

	session, err := client.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start live session: %v", err)
	}
	defer session.Close()

	mic, speaker, cleanup := initAudio()
	defer cleanup()

	// Send microphone audio to the session.
	go func() {
		input, err := session.NewAudioInput(audio.InputFormat().SampleRate, audio.InputFormat().Channels)
		if err != nil {
			log.Fatalf("Failed to open audio input: %v", err)
		}
		defer input.Close()

		buf := make([]byte, audio.InputFormat().BytesPerSecond()/50) // 20ms reads
		for {
			select {
			case <-ctx.Done():
				return
			case <-session.Done():
				return
			default:
			}
			n := mic.Read(buf)
			if n > 0 {
				input.Write(audio.BytesToSamples(buf[:n]))
			}
		}
	}()

	// Play audio via the session's AudioOutput, which handles
	// pre-buffering and interruption flushes.
	session.AudioOutput().HandleAudio(
		func(data []byte) { speaker.Write(data) },
		func() { speaker.Flush() },
	)

	go func() {
		for event := range session.Events() {
			switch e := event.(type) {
			case golive.InputTranscriptionEvent:
				if e.Finished {
					fmt.Printf("[YOU] %s\n", e.Text)
				}
			case golive.OutputTranscriptionEvent:
				if e.Finished {
					fmt.Printf("[MODEL] %s\n", e.Text)
				}
			case golive.TextEvent:
				fmt.Print(e.Text)
			case golive.InterruptedEvent:
				fmt.Println("[INTERRUPTED]")
			case golive.GoAwayEvent:
				fmt.Printf("[INFO] Server going away in %s\n", e.TimeLeft)
			case golive.ResumedEvent:
				if e.Fallback {
					fmt.Println("[INFO] Resumption expired, started a fresh session")
				} else {
					fmt.Println("[INFO] Session resumed")
				}
			case golive.CompressionRecommendedEvent:
				fmt.Printf("[WARN] Context at %d of %d tokens\n", e.TotalTokens, e.TokenBudget)
			case golive.ErrorEvent:
				fmt.Printf("\n[ERROR] %v\n", e.Err)
			case golive.ClosedEvent:
				if e.Err != nil {
					fmt.Printf("\n[CLOSED] %v\n", e.Err)
				}
				cancel()
			}
		}
	}()

	fmt.Println("Listening... (type commands or 'q' to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.ToLower(input) == "q" {
			break
		}

		if strings.HasPrefix(input, "/t ") {
			text := strings.TrimPrefix(input, "/t ")
			if err := session.SendText(text); err != nil {
				fmt.Printf("[ERROR] Failed to send text: %v\n", err)
			} else {
				fmt.Printf("[SENT] %s\n", text)
			}
			continue
		}

		fmt.Println("[INFO] Commands: /t <text>, q")
	}
}
