package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/RichardoC/padchat/internal/chat"
	"github.com/RichardoC/padchat/internal/config"
	"github.com/RichardoC/padchat/internal/db"
	"github.com/RichardoC/padchat/internal/llm"
	"github.com/RichardoC/padchat/internal/tokenizer"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "padchat",
		Short: "Chat with a language model in the terminal",
		Long: `Starts a terminal conversation. Each turn is added to a token context
that is sent back to the model, with the oldest turns evicted once the
context would exceed --max-context-length.

Example:
  padchat --model llama3.1:8b --max-turns 20 --db padchat.db`,
		SilenceUsage: true,
		RunE:         runChat,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	// keep the terminal readable: warnings and errors only
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runChat(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	tok, err := tokenizer.NewTiktoken(cfg.Encoding)
	if err != nil {
		logger.Error("failed to load tokenizer", zap.Error(err), zap.String("encoding", cfg.Encoding))
		return err
	}

	svc, err := llm.New(llm.Options{
		Provider:     cfg.Provider,
		BaseURL:      cfg.BaseURL,
		Token:        cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.GenerateTimeout,
	}, tok, logger)
	if err != nil {
		logger.Error("failed to initialize LLM service", zap.Error(err))
		return err
	}

	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithExitKeywords(cfg.ExitKeywords...),
		chat.WithReplyReserve(cfg.ReplyReserve),
		chat.WithRecoverTurns(cfg.RecoverTurns),
	}

	if cfg.DBPath != "" {
		database, dbErr := db.New(cfg.DBPath)
		if dbErr != nil {
			logger.Error("failed to open transcript", zap.Error(dbErr), zap.String("dbPath", cfg.DBPath))
			return dbErr
		}
		defer func() {
			err = multierr.Append(err, database.Close())
		}()

		conv, dbErr := database.CreateConversation("Terminal session " + time.Now().Format(time.RFC3339))
		if dbErr != nil {
			return dbErr
		}
		opts = append(opts, chat.WithJournal(database.Journal(conv.ID)))
	}

	out := cmd.OutOrStdout()
	term := chat.NewTerminal(cmd.InOrStdin(), out)
	term.BotLabel = cfg.Model

	fmt.Fprintf(out, "Chat started with %s! Type '%s' to end the chat.\n",
		cfg.Model, strings.Join(cfg.ExitKeywords, "' or '"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	m := chat.New(tok, svc, term, term, opts...)
	if err := m.Start(ctx, cfg.MaxTurns, cfg.MaxContextLength); err != nil {
		// interrupted at the prompt
		if errors.Is(err, context.Canceled) && cmd.Context().Err() == nil {
			fmt.Fprintln(out)
			return nil
		}
		return err
	}
	return nil
}
