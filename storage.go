package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ConversationStore persists conversations as JSON files, one per
// conversation. It implements the pipeline's MessageAppender boundary.
type ConversationStore struct {
	dir string
}

// NewConversationStore creates a store rooted at dir.
func NewConversationStore(dir string) *ConversationStore {
	return &ConversationStore{dir: dir}
}

// ensureDir ensures the data directory exists.
func (s *ConversationStore) ensureDir() error {
	return os.MkdirAll(s.dir, 0755)
}

// path returns the file path for a conversation.
func (s *ConversationStore) path(conversationID string) string {
	return filepath.Join(s.dir, conversationID+".json")
}

// Create creates a new conversation with the given ID.
// Initializes an empty conversation with default title and saves it to disk.
func (s *ConversationStore) Create(conversationID string) (*Conversation, error) {
	if err := s.ensureDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conversation := &Conversation{
		ID:        conversationID,
		CreatedAt: time.Now().UTC(),
		Title:     "New Conversation",
		Messages:  []Message{},
	}

	if err := s.Save(conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

// Get loads a conversation by ID. Returns nil without error if the
// conversation doesn't exist.
func (s *ConversationStore) Get(conversationID string) (*Conversation, error) {
	path := s.path(conversationID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil // Not found, return nil without error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conversation Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("failed to parse conversation JSON: %w", err)
	}

	return &conversation, nil
}

// Save writes a conversation to disk as formatted JSON.
func (s *ConversationStore) Save(conversation *Conversation) error {
	if err := s.ensureDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	if err := os.WriteFile(s.path(conversation.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write conversation file: %w", err)
	}

	return nil
}

// List returns metadata for all conversations, newest first. Silently skips
// invalid or unreadable files.
func (s *ConversationStore) List() ([]ConversationMetadata, error) {
	if err := s.ensureDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	// Initialize with empty slice to avoid null in JSON
	conversations := make([]ConversationMetadata, 0)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue // Skip files we can't read
		}

		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			continue // Skip invalid JSON
		}

		conversations = append(conversations, ConversationMetadata{
			ID:           conv.ID,
			CreatedAt:    conv.CreatedAt,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})

	return conversations, nil
}

// AppendUserMessage appends a user turn to a conversation.
func (s *ConversationStore) AppendUserMessage(conversationID, content string) error {
	conversation, err := s.Get(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	conversation.Messages = append(conversation.Messages, Message{
		Role:    "user",
		Content: content,
	})

	return s.Save(conversation)
}

// AppendAssistantMessage appends a completed council turn with all 3 stages
// and the session metadata (label map and aggregate rankings).
func (s *ConversationStore) AppendAssistantMessage(conversationID string, result *CouncilResult) error {
	conversation, err := s.Get(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	stage3 := result.Stage3
	metadata := result.Metadata
	conversation.Messages = append(conversation.Messages, Message{
		Role:     "assistant",
		Stage1:   result.Stage1,
		Stage2:   result.Stage2,
		Stage3:   &stage3,
		Metadata: &metadata,
	})

	return s.Save(conversation)
}

// UpdateTitle updates the title of a conversation.
func (s *ConversationStore) UpdateTitle(conversationID, title string) error {
	conversation, err := s.Get(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	conversation.Title = title

	return s.Save(conversation)
}
