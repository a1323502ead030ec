// Aliya client - the interaction core of the Aliya voice assistant.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aliya-ai/aliya-client/internal/audio"
	"github.com/aliya-ai/aliya-client/internal/avatar"
	"github.com/aliya-ai/aliya-client/internal/bus"
	"github.com/aliya-ai/aliya-client/internal/chat"
	"github.com/aliya-ai/aliya-client/internal/config"
	"github.com/aliya-ai/aliya-client/internal/gaze"
	"github.com/aliya-ai/aliya-client/internal/history"
	"github.com/aliya-ai/aliya-client/internal/listen"
	"github.com/aliya-ai/aliya-client/internal/logging"
	"github.com/aliya-ai/aliya-client/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      logging.LogLevel(cfg.Log.Level),
		MaxHistory: cfg.Log.MaxHistory,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		// Fall back to defaults rather than refusing to start.
		logger, err = logging.New(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Close()

	zlog := logger.Component("main")

	eventBus := bus.NewEventBus()
	turns := history.NewBuffer(history.DefaultConfig())

	client := chat.NewClient(&chat.ClientConfig{
		BaseURL:   cfg.Server.BaseURL,
		APIPrefix: cfg.Server.APIPrefix,
		Timeout:   cfg.Server.Timeout,
	}, logger.Component("chat"))

	playback := audio.NewQueue(audio.NewCommandPlayer(""), logger.Component("playback"))

	machine := session.NewMachine(session.Config{
		Language:      cfg.Chat.Language,
		SpeakerID:     cfg.Chat.SpeakerID,
		GenerateAudio: cfg.Chat.GenerateAudio,
		HistoryWindow: cfg.Chat.HistoryWindow,
		Streaming:     cfg.Chat.Streaming,
	}, turns, client, playback, nil, eventBus, logger.Component("session"))

	// Passive listening is optional: without a recognizer endpoint the
	// machine degrades to typed input only.
	activation := listen.NewActivation(cfg.Wake.ActivationFlash, func(active bool) {
		if active {
			eventBus.Publish(bus.Event{Type: bus.EventTypeWakeActivated})
		} else {
			eventBus.Publish(bus.Event{Type: bus.EventTypeWakeCleared})
		}
	})
	matcher := listen.NewWakeMatcher(listen.WakeConfig{
		Variants:          cfg.Wake.Variants,
		MinUtteranceRunes: cfg.Wake.MinUtteranceRunes,
	})

	recognizer := listen.NewStreamingRecognizer(&listen.StreamingConfig{
		Endpoint:   cfg.Listen.Endpoint,
		APIKey:     cfg.Listen.APIKey,
		Language:   cfg.Listen.Language,
		SampleRate: cfg.Listen.SampleRate,
	}, nil, logger.Component("recognizer"))

	if recognizer.IsAvailable() {
		supervisor := listen.NewSupervisor(
			recognizer,
			matcher,
			activation,
			listen.SupervisorConfig{ErrorBackoff: cfg.Listen.ErrorBackoff},
			machine.IsPassiveListening,
			machine.HandleWakeUtterance,
			logger.Component("listen"),
		)
		supervisor.SetPartialHandler(func(text string, isFinal bool) {
			t := bus.EventTypePartialTranscript
			if isFinal {
				t = bus.EventTypeFinalTranscript
			}
			eventBus.Publish(bus.Event{Type: t, Data: map[string]any{"text": text}})
		})
		supervisor.SetDownHandler(func(err error) {
			data := map[string]any{}
			if err != nil {
				data["error"] = err.Error()
			}
			eventBus.Publish(bus.Event{Type: bus.EventTypeRecognizerDown, Data: data})
		})
		machine.SetSupervisor(supervisor)
	} else {
		zlog.Warn().Msg("No recognizer endpoint configured, passive listening disabled")
	}

	// Gaze runs on its own lane; with no camera attached it degrades to
	// a permanent no-face state and chat is unaffected. Handlers go on
	// before Start because degradation can happen during Start.
	gazeSource := gaze.NewSource(gaze.Config{FrameStride: cfg.Gaze.FrameStride}, nil, nil, logger.Component("gaze"))
	gazeSource.SetDegradeHandler(func(err error) {
		eventBus.Publish(bus.Event{
			Type: bus.EventTypeGazeDegraded,
			Data: map[string]any{"error": err.Error()},
		})
	})

	blinker := avatar.NewBlinker(avatar.BlinkConfig{
		MinInterval: cfg.Avatar.BlinkMin,
		MaxInterval: cfg.Avatar.BlinkMax,
		Duration:    cfg.Avatar.BlinkDuration,
	}, nil)
	blinker.Start()
	defer blinker.Stop()

	projCfg := avatar.ProjectorConfig{PupilRange: cfg.Avatar.PupilRange}
	publishAvatar := func() {
		params := avatar.Project(projCfg, machine.Emotion(), gazeSource.Current(), machine.ActivityFlags(), blinker.Blinking())
		eventBus.Publish(bus.Event{
			Type: bus.EventTypeAvatarUpdated,
			Data: map[string]any{
				"emotion":     string(params.Emotion),
				"eyeAperture": params.EyeAperture,
				"pupilX":      params.PupilOffset.X(),
				"pupilY":      params.PupilOffset.Y(),
				"blinking":    params.Blinking,
				"status":      string(params.Status),
			},
		})
	}
	gazeSource.SetSampleHandler(func(sample gaze.Sample) {
		eventBus.Publish(bus.Event{
			Type: bus.EventTypeGazeUpdated,
			Data: map[string]any{
				"x":       sample.Vector.X(),
				"y":       sample.Vector.Y(),
				"hasFace": sample.HasFace,
			},
		})
		publishAvatar()
	})
	eventBus.Subscribe(bus.EventTypeStateChanged, func(bus.Event) { publishAvatar() })
	eventBus.Subscribe(bus.EventTypeReplyEmotion, func(bus.Event) { publishAvatar() })

	gazeSource.Start()
	defer gazeSource.Stop()

	machine.Start()
	defer machine.Stop()

	if !recognizer.IsAvailable() {
		machine.ReportFatal(listen.ErrRecognizerUnavailable)
	}

	// Most settings need a restart; the log level applies live.
	config.Watch(func(updated *config.Config) {
		logger.SetLevel(logging.LogLevel(updated.Log.Level))
		zlog.Info().Str("level", updated.Log.Level).Msg("Configuration reloaded")
	})

	zlog.Info().Str("server", cfg.Server.BaseURL).Msg("Aliya client ready")

	go repl(machine, turns)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	zlog.Info().Msg("Shutting down")
}

// repl reads typed utterances from stdin so the core is usable without a
// UI shell.
func repl(machine *session.Machine, turns *history.Buffer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/record":
			if err := machine.ToggleRecording(); err != nil {
				fmt.Printf("! %v\n", err)
			}
		case line == "/history":
			for _, t := range turns.All() {
				fmt.Printf("[%s] %s\n", t.Role, chat.DisplayText(t.Text))
			}
		default:
			if err := machine.SubmitUtterance(line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}
