package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/padchat/internal/api"
	"github.com/RichardoC/padchat/internal/chat"
	"github.com/RichardoC/padchat/internal/config"
	"github.com/RichardoC/padchat/internal/db"
	"github.com/RichardoC/padchat/internal/llm"
	"github.com/RichardoC/padchat/internal/tokenizer"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultDBPath = "padchat.db"

// newLogger builds the one logger the server uses; debug switches to the
// development encoder and level.
func newLogger(debug bool) *zap.Logger {
	build := zap.NewProduction
	if debug {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	flags := pflag.NewFlagSet("padchat-server", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.String("listen", ":8100", "HTTP listen address")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	debug, _ := flags.GetBool("debug")
	if err == nil {
		debug = cfg.Debug
	}
	logger := newLogger(debug)
	defer logger.Sync()

	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}

	conv, err := database.CreateConversation("HTTP session " + time.Now().Format(time.RFC3339))
	if err != nil {
		logger.Fatal("failed to create conversation", zap.Error(err))
	}

	tok, err := tokenizer.NewTiktoken(cfg.Encoding)
	if err != nil {
		logger.Fatal("failed to load tokenizer", zap.Error(err))
	}

	llmService, err := llm.New(llm.Options{
		Provider:     cfg.Provider,
		BaseURL:      cfg.BaseURL,
		Token:        cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.GenerateTimeout,
	}, tok, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := api.NewBridge()
	manager := chat.New(tok, llmService, bridge, bridge,
		chat.WithLogger(logger),
		chat.WithJournal(database.Journal(conv.ID)),
		chat.WithExitKeywords(cfg.ExitKeywords...),
		chat.WithReplyReserve(cfg.ReplyReserve),
		chat.WithRecoverTurns(cfg.RecoverTurns),
	)

	go func() {
		defer bridge.Close()
		if err := manager.Start(ctx, cfg.MaxTurns, cfg.MaxContextLength); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("conversation ended with error", zap.Error(err))
			return
		}
		logger.Info("conversation finished", zap.Int64("conversationID", conv.ID))
	}()

	mux := http.NewServeMux()
	api.NewHandler(database, bridge, conv.ID, logger).Routes(mux)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	server := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting server", zap.String("addr", cfg.Listen), zap.Int64("conversationID", conv.ID))
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	bridge.Close()
	if err = multierr.Append(err, database.Close()); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}
