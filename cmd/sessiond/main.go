package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/lokutor-ai/meetingcap/pkg/capture"
	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
	"github.com/lokutor-ai/meetingcap/pkg/relay"
	"github.com/lokutor-ai/meetingcap/pkg/session"
)

const defaultSampleRate = 16000

// charmLogger adapts charmbracelet/log onto session.Logger, in the same
// single-package-level-logger spirit the teacher's cmd/agent used, but
// with structured key/value args instead of Printf lines.
type charmLogger struct {
	l *charmlog.Logger
}

func newCharmLogger() *charmLogger {
	l := charmlog.New(os.Stderr)
	l.SetReportTimestamp(true)
	l.SetLevel(charmlog.InfoLevel)
	return &charmLogger{l: l}
}

func (c *charmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *charmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *charmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *charmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }

// printConsumer prints amplitude/transcript events to stdout, the same
// role the teacher's cmd/agent filled with an inline event-switch
// goroutine, adapted here to session.Consumer's meeting event shapes.
type printConsumer struct {
	log session.Logger
}

func (c *printConsumer) OnAmplitude(ev session.AmplitudeEvent) {
	fmt.Printf("\r[MIC %-5d | SPK %-5d]", ev.Mic, ev.Speaker)
}

func (c *printConsumer) OnTranscript(ev session.TranscriptEvent) {
	switch t := ev.Response.(type) {
	case stt.Transcript:
		if !t.IsFinal {
			return
		}
		for _, alt := range t.Channels {
			if alt.Transcript == "" {
				continue
			}
			fmt.Printf("\r\033[K[%s] %s\n", ev.SessionID, alt.Transcript)
		}
	case stt.Error:
		c.log.Warn("provider_error", "code", t.Code, "message", t.Message, "provider", t.Provider)
	}
}

func (c *printConsumer) OnActive(sessionID string, err *session.DegradedError) {
	if err == nil {
		fmt.Printf("\r\033[K[%s] transcription finalizing\n", sessionID)
		return
	}
	fmt.Printf("\r\033[K[%s] transcription degraded: %s\n", sessionID, err.Message)
}

func buildAdapter(provider string, apiKey string) (stt.StreamAdapter, error) {
	switch provider {
	case "deepgram":
		return stt.NewDeepgramStreamAdapter(apiKey), nil
	case "assemblyai":
		return stt.NewAssemblyAIStreamAdapter(), nil
	case "soniox":
		return stt.NewSonioxStreamAdapter(), nil
	case "elevenlabs":
		return stt.NewElevenLabsStreamAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want deepgram, assemblyai, soniox, or elevenlabs)", provider)
	}
}

func apiKeyFor(provider string) string {
	switch provider {
	case "deepgram":
		return os.Getenv("DEEPGRAM_API_KEY")
	case "assemblyai":
		return os.Getenv("ASSEMBLYAI_API_KEY")
	case "soniox":
		return os.Getenv("SONIOX_API_KEY")
	case "elevenlabs":
		return os.Getenv("ELEVENLABS_API_KEY")
	default:
		return ""
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "note: no .env file found, using system environment variables")
	}

	var (
		record     bool
		provider   string
		baseDir    string
		sampleRate int
		mode       string
	)
	pflag.BoolVar(&record, "record", false, "write the session's audio to a WAV file under --base-dir")
	pflag.StringVar(&provider, "provider", "deepgram", "streaming STT provider: deepgram, assemblyai, soniox, or elevenlabs")
	pflag.StringVar(&baseDir, "base-dir", "./sessions-data", "directory sessions are recorded under")
	pflag.IntVar(&sampleRate, "sample-rate", defaultSampleRate, "capture sample rate in Hz")
	pflag.StringVar(&mode, "mode", "dual", "channel mode: mic, speaker, or dual")
	pflag.Parse()

	log := newCharmLogger()

	channelMode, err := parseChannelMode(mode)
	if err != nil {
		log.Error("invalid_mode", "error", err)
		os.Exit(1)
	}

	apiKey := apiKeyFor(provider)
	if apiKey == "" && provider != "assemblyai" && provider != "soniox" && provider != "elevenlabs" {
		log.Error("missing_api_key", "provider", provider)
		os.Exit(1)
	}

	adapter, err := buildAdapter(provider, apiKey)
	if err != nil {
		log.Error("unsupported_provider", "error", err)
		os.Exit(1)
	}

	sessionID := uuid.NewString()
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		log.Error("base_dir_create_failed", "error", err)
		os.Exit(1)
	}

	device, err := capture.New(capture.Config{SampleRate: sampleRate, Log: log})
	if err != nil {
		log.Error("capture_init_failed", "error", err)
		os.Exit(1)
	}
	defer device.Close()

	params := session.Params{
		SessionID:     sessionID,
		AppDir:        baseDir,
		SampleRate:    sampleRate,
		Mode:          channelMode,
		RecordEnabled: record,
		StartedAt:     time.Now(),
		Adapter:       adapter,
		Session: stt.SessionParams{
			SessionID:     sessionID,
			Languages:     []string{"en"},
			APIKey:        apiKey,
			RecordEnabled: record,
			SampleRate:    sampleRate,
		},
	}

	sup := session.NewSupervisor(params, device, &printConsumer{log: log}, log, relay.DialUpstream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("session %s started: provider=%s mode=%s record=%v base_dir=%s\n", sessionID, provider, mode, record, baseDir)
	fmt.Println("Press Ctrl+C to stop.")

	go sup.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down...")
	sup.Shutdown()

	select {
	case <-sup.Done():
	case <-time.After(10 * time.Second):
		log.Warn("supervisor_shutdown_timed_out")
	}
}

func parseChannelMode(mode string) (stt.ChannelMode, error) {
	switch mode {
	case "mic":
		return stt.ChannelMicOnly, nil
	case "speaker":
		return stt.ChannelSpeakerOnly, nil
	case "dual", "":
		return stt.ChannelMicAndSpeaker, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want mic, speaker, or dual)", mode)
	}
}
