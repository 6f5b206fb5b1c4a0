package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/logging"
	"github.com/openminutes/openminutes/internal/pipeline"
	"github.com/openminutes/openminutes/internal/publish"
	"github.com/openminutes/openminutes/internal/refine"
	"github.com/openminutes/openminutes/internal/retention"
	"github.com/openminutes/openminutes/internal/server"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/summarize"
	"github.com/openminutes/openminutes/internal/transcribe"
)

// taskVisibility is how long a claimed task stays invisible before it is
// presumed abandoned and redelivered.
const taskVisibility = 30 * time.Minute

func main() {
	configPath := "config/config.yaml"
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New()
	log := logrus.NewEntry(logger)

	for _, dir := range []string{cfg.Storage.AudioDir, cfg.Storage.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.WithError(err).WithField("dir", dir).Fatal("could not create data directory")
		}
	}

	st, err := store.Open(cfg.Storage.Database)
	if err != nil {
		log.WithError(err).Fatal("could not open database")
	}
	defer st.Close()

	if cfg.Transcription.APIKey == "" {
		log.Fatal("OPENAI_API_KEY is not set")
	}

	transcriber := transcribe.NewOpenAITranscriber(
		cfg.Transcription.BaseURL,
		cfg.Transcription.APIKey,
		cfg.Transcription.Model,
		cfg.Transcription.Language,
		time.Duration(cfg.Transcription.TimeoutSeconds)*time.Second,
		cfg.Transcription.MaxRetries,
		log,
	)
	refiner := refine.NewOpenAIRefiner(
		cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
		cfg.LLM.MaxRetries, cfg.LLM.MaxInputChars, log,
	)
	summarizer := summarize.NewOpenAISummarizer(
		cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
		cfg.LLM.MaxRetries, cfg.LLM.MaxInputChars, log,
	)

	chunker := &audio.Chunker{
		CeilingBytes:  int64(cfg.Audio.ChunkCeilingMB) * 1024 * 1024,
		TargetSeconds: float64(cfg.Audio.ChunkSeconds),
		TempDir:       cfg.Storage.TempDir,
	}

	ctx := context.Background()

	// Publishing connectors are optional: missing credentials disable the
	// surface instead of blocking startup.
	var wiki publish.WikiPublisher
	if _, err := os.Stat(cfg.Wiki.CredentialsFile); err == nil {
		w, err := publish.NewDriveWiki(ctx, cfg.Wiki.CredentialsFile, cfg.Wiki.TokenFile, cfg.Wiki.FolderName, log)
		if err != nil {
			log.WithError(err).Warn("wiki publishing unavailable")
		} else {
			wiki = w
			log.Info("wiki publishing enabled")
		}
	} else {
		log.Info("no wiki credentials, wiki publishing disabled")
	}

	var chat publish.ChatPublisher
	var chatChannel string
	if cfg.Chat.BotToken != "" && cfg.Chat.Channel != "" {
		c, err := publish.NewDiscordChat(cfg.Chat.BotToken, cfg.Chat.Channel, log)
		if err != nil {
			log.WithError(err).Warn("chat publishing unavailable")
		} else {
			chat = c
			chatChannel = c.ChannelID()
			log.Info("chat publishing enabled")
		}
	} else {
		log.Info("no chat credentials, chat publishing disabled")
	}

	orch := pipeline.New(
		st, chunker, transcriber, refiner, summarizer,
		cfg.Storage.TempDir, cfg.Transcription.FanOut, log,
	).WithPublishers(wiki, chat, chatChannel)

	pool := pipeline.NewPool(st, orch, cfg.Workers.Count, taskVisibility, log)
	pool.Start(ctx)
	defer pool.Stop()

	sweeper := retention.NewSweeper(st, cfg.Storage.TempDir, cfg.SweepPeriod(), pool.Notify, log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := server.New(st, orch, cfg.Storage.AudioDir, cfg.Audio.MaxUploadMB, cfg.Retention(), log)
	app := srv.App()

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Info("shutting down")
		app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).Info("server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
