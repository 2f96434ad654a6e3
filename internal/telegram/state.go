package telegram

import (
	"context"
	"sync"
)

// ChatState is where a chat is in the identify → confirm → correct dialog.
type ChatState string

const (
	StateIdle               ChatState = "idle"                // waiting for a photo
	StateAwaitingFeedback   ChatState = "awaiting_feedback"   // prediction sent, waiting for yes/no
	StateAwaitingCorrection ChatState = "awaiting_correction" // user said no, waiting for the name
)

// Chat is the per-chat dialog state.
type Chat struct {
	ID        int64
	State     ChatState
	Predicted int // class id of the last prediction
}

func NewChat(chatID int64) *Chat {
	return &Chat{ID: chatID, State: StateIdle, Predicted: -1}
}

func (c *Chat) Reset() {
	c.State = StateIdle
	c.Predicted = -1
}

// ChatRepository stores dialog state per chat.
type ChatRepository interface {
	// Get returns the chat, creating an idle one if it is unknown.
	Get(ctx context.Context, chatID int64) (*Chat, error)
	Save(ctx context.Context, chat *Chat) error
}

type MemoryChatRepository struct {
	mu    sync.RWMutex
	chats map[int64]Chat
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{chats: make(map[int64]Chat)}
}

// Get hands out a copy so callers only change stored state through Save.
func (r *MemoryChatRepository) Get(ctx context.Context, chatID int64) (*Chat, error) {
	r.mu.RLock()
	chat, exists := r.chats[chatID]
	r.mu.RUnlock()

	if exists {
		return &chat, nil
	}
	return NewChat(chatID), nil
}

func (r *MemoryChatRepository) Save(ctx context.Context, chat *Chat) error {
	r.mu.Lock()
	r.chats[chat.ID] = *chat
	r.mu.Unlock()
	return nil
}

var _ ChatRepository = (*MemoryChatRepository)(nil)
