package models

import "time"

// ConversationContext is the token history retained between turns.
type ConversationContext struct {
	Tokens    []int `json:"tokens"`
	TurnCount int   `json:"turn_count"`
}

func (c ConversationContext) Len() int {
	return len(c.Tokens)
}

// Clone returns a copy that shares no backing array with c.
func (c ConversationContext) Clone() ConversationContext {
	tokens := make([]int, len(c.Tokens))
	copy(tokens, c.Tokens)
	return ConversationContext{Tokens: tokens, TurnCount: c.TurnCount}
}

// Turn is one processed request/response exchange. It is not retained by the manager.
type Turn struct {
	Number            int    `json:"number"`
	UserText          string `json:"user_text"`
	UserTokens        []int  `json:"user_tokens"`
	InputLength       int    `json:"input_length"`        // length of the pre-generation sequence
	ModelOutputTokens []int  `json:"model_output_tokens"` // generated suffix only
	BotText           string `json:"bot_text"`
	ContextLength     int    `json:"context_length"` // retained context length after the turn
}

type Message struct {
	ID         int64     `json:"id"`
	ConvID     int64     `json:"conversation_id"`
	Role       string    `json:"role"` // user or assistant
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UID       string    `json:"uid"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
