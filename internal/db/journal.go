package db

import (
	"context"

	"github.com/RichardoC/padchat/internal/models"
)

// Journal appends the turns of one conversation to the database.
type Journal struct {
	db     *Database
	convID int64
}

func (db *Database) Journal(conversationID int64) *Journal {
	return &Journal{db: db, convID: conversationID}
}

func (j *Journal) ConversationID() int64 {
	return j.convID
}

// RecordTurn stores the user and assistant messages of a turn atomically.
func (j *Journal) RecordTurn(ctx context.Context, turn models.Turn) error {
	tx, err := j.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	user := &models.Message{
		ConvID:     j.convID,
		Role:       "user",
		Content:    turn.UserText,
		TokenCount: len(turn.UserTokens),
	}
	if err := j.db.saveMessage(ctx, tx, user); err != nil {
		return err
	}

	bot := &models.Message{
		ConvID:     j.convID,
		Role:       "assistant",
		Content:    turn.BotText,
		TokenCount: len(turn.ModelOutputTokens),
	}
	if err := j.db.saveMessage(ctx, tx, bot); err != nil {
		return err
	}

	return tx.Commit()
}
