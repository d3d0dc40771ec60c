// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	storagebadger "github.com/omnichat-app/omnichat/services/chat/storage/badger"
)

// =============================================================================
// Keys
// =============================================================================

const (
	chatKeyPrefix = "chat:"
	msgKeyPrefix  = "msg:"
	msgSeqKey     = "seq:msg"

	// seqBandwidth is how many IDs each Sequence lease reserves. Unused
	// IDs in a lease are lost on close, leaving gaps; ordering still holds.
	seqBandwidth = 64

	// titleRuneLimit is how much of the first user message becomes the
	// chat title.
	titleRuneLimit = 30
)

func chatKey(chatID string) []byte {
	return []byte(chatKeyPrefix + chatID)
}

func msgPrefix(chatID string) []byte {
	return []byte(msgKeyPrefix + chatID + ":")
}

// msgKey pads the ID so lexicographic key order equals numeric ID order.
func msgKey(chatID string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016d", msgKeyPrefix, chatID, id))
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore is the BadgerDB-backed Store.
//
// # Description
//
// Chats are stored under chat:<uuid> and messages under
// msg:<chat-uuid>:<padded-id>, so a chat's messages are one prefix scan in
// ID order. IDs come from a single badger Sequence shared by all chats,
// which makes them strictly increasing store-wide.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// isolation.
type BadgerStore struct {
	db     *storagebadger.DB
	seq    *dgbadger.Sequence
	logger *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates a Store on an opened database. The store owns the
// message ID sequence but not the database; Close releases both.
func NewBadgerStore(db *storagebadger.DB, logger *slog.Logger) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	seq, err := db.GetSequence([]byte(msgSeqKey), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("create message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, logger: logger}, nil
}

// Close releases the ID sequence and closes the underlying database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("release message sequence", slog.String("error", err.Error()))
	}
	return s.db.Close()
}

// =============================================================================
// Chats
// =============================================================================

func (s *BadgerStore) CreateChat(ctx context.Context, title string) (*datatypes.Chat, error) {
	if title == "" {
		title = datatypes.DefaultChatTitle
	}

	now := time.Now().UTC()
	chat := &datatypes.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return putJSON(txn, chatKey(chat.ID), chat)
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	s.logger.Debug("chat created", slog.String("chat_id", chat.ID))
	return chat, nil
}

func (s *BadgerStore) GetChat(ctx context.Context, chatID string) (*datatypes.Chat, error) {
	var chat datatypes.Chat
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, chatKey(chatID), &chat, ErrChatNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *BadgerStore) RenameChat(ctx context.Context, chatID, title string) error {
	if title == "" {
		return errors.New("title must not be empty")
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var chat datatypes.Chat
		if err := getJSON(txn, chatKey(chatID), &chat, ErrChatNotFound); err != nil {
			return err
		}
		chat.Title = title
		chat.UpdatedAt = time.Now().UTC()
		return putJSON(txn, chatKey(chatID), &chat)
	})
}

func (s *BadgerStore) DeleteChat(ctx context.Context, chatID string) error {
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get(chatKey(chatID)); err != nil {
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return ErrChatNotFound
			}
			return err
		}
		if err := txn.Delete(chatKey(chatID)); err != nil {
			return err
		}

		prefix := msgPrefix(chatID)
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ListChats(ctx context.Context) ([]datatypes.Chat, error) {
	var chats []datatypes.Chat
	prefix := []byte(chatKeyPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var chat datatypes.Chat
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &chat)
			})
			if err != nil {
				return err
			}
			chats = append(chats, chat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// =============================================================================
// Messages
// =============================================================================

func (s *BadgerStore) AddMessage(ctx context.Context, msg *datatypes.ChatMessage) (int64, error) {
	if msg == nil {
		return 0, errors.New("message must not be nil")
	}
	if msg.ChatID == "" {
		return 0, errors.New("message chat ID must not be empty")
	}
	if err := msg.Validate(); err != nil {
		return 0, fmt.Errorf("validate message: %w", err)
	}

	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next message ID: %w", err)
	}
	// Sequence starts at zero; message IDs start at one.
	msg.ID = int64(next) + 1
	msg.CreatedAt = time.Now().UTC()

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var chat datatypes.Chat
		if err := getJSON(txn, chatKey(msg.ChatID), &chat, ErrChatNotFound); err != nil {
			return err
		}

		if err := putJSON(txn, msgKey(msg.ChatID, msg.ID), msg); err != nil {
			return err
		}

		if chat.Title == datatypes.DefaultChatTitle && msg.Role == datatypes.RoleUser && msg.Content != "" {
			chat.Title = truncateTitle(msg.Content)
		}
		chat.UpdatedAt = time.Now().UTC()
		return putJSON(txn, chatKey(msg.ChatID), &chat)
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (s *BadgerStore) GetMessage(ctx context.Context, chatID string, id int64) (*datatypes.ChatMessage, error) {
	var msg datatypes.ChatMessage
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, msgKey(chatID, id), &msg, ErrMessageNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *BadgerStore) UpdateMessage(ctx context.Context, chatID string, id int64, upd MessageUpdate) error {
	if upd.Empty() {
		return nil
	}

	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var msg datatypes.ChatMessage
		if err := getJSON(txn, msgKey(chatID, id), &msg, ErrMessageNotFound); err != nil {
			return err
		}

		if upd.Content != nil {
			msg.Content = *upd.Content
		}
		if upd.ReasoningContent != nil {
			msg.ReasoningContent = *upd.ReasoningContent
		}
		if upd.GroundingMetadata != nil {
			msg.GroundingMetadata = upd.GroundingMetadata
		}
		if upd.URLContextMetadata != nil {
			msg.URLContextMetadata = upd.URLContextMetadata
		}
		if upd.FunctionCalls != nil {
			msg.FunctionCalls = upd.FunctionCalls
		}
		if upd.FunctionResponses != nil {
			msg.FunctionResponses = upd.FunctionResponses
		}
		if upd.Model != nil {
			msg.Model = *upd.Model
		}

		return putJSON(txn, msgKey(chatID, id), &msg)
	})
}

func (s *BadgerStore) DeleteMessage(ctx context.Context, chatID string, id int64) error {
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		key := msgKey(chatID, id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (s *BadgerStore) ListMessages(ctx context.Context, chatID string) ([]datatypes.ChatMessage, error) {
	var msgs []datatypes.ChatMessage
	prefix := msgPrefix(chatID)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get(chatKey(chatID)); err != nil {
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return ErrChatNotFound
			}
			return err
		}

		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg datatypes.ChatMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// =============================================================================
// Export / Import
// =============================================================================

// archive is the wire format of Export and Import.
type archive struct {
	Version  int                     `json:"version"`
	Exported time.Time               `json:"exportedAt"`
	Chats    []datatypes.Chat        `json:"chats"`
	Messages []datatypes.ChatMessage `json:"messages"`
}

const archiveVersion = 1

func (s *BadgerStore) Export(ctx context.Context, w io.Writer) error {
	chats, err := s.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("export chats: %w", err)
	}

	doc := archive{
		Version:  archiveVersion,
		Exported: time.Now().UTC(),
		Chats:    chats,
	}
	for _, chat := range chats {
		msgs, err := s.ListMessages(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("export messages for chat %s: %w", chat.ID, err)
		}
		doc.Messages = append(doc.Messages, msgs...)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (s *BadgerStore) Import(ctx context.Context, r io.Reader) error {
	var doc archive
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode archive: %w", err)
	}
	if doc.Version != archiveVersion {
		return fmt.Errorf("unsupported archive version %d", doc.Version)
	}

	// Imported messages keep their original IDs but must not collide with
	// IDs this store will assign next, so the sequence is advanced past
	// the archive's highest ID.
	var maxID int64
	for _, msg := range doc.Messages {
		if msg.ID > maxID {
			maxID = msg.ID
		}
	}

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for i := range doc.Chats {
			if err := putJSON(txn, chatKey(doc.Chats[i].ID), &doc.Chats[i]); err != nil {
				return err
			}
		}
		for i := range doc.Messages {
			msg := &doc.Messages[i]
			if msg.ChatID == "" || msg.ID == 0 {
				return fmt.Errorf("archive message %d missing chat ID or ID", i)
			}
			if err := putJSON(txn, msgKey(msg.ChatID, msg.ID), msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for {
		next, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("advance message sequence: %w", err)
		}
		if int64(next)+1 > maxID {
			return nil
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func putJSON(txn *dgbadger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *dgbadger.Txn, key []byte, v any, notFound error) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return notFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// truncateTitle derives a chat title from the first user message.
func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRuneLimit {
		return content
	}
	return string(runes[:titleRuneLimit]) + "..."
}
