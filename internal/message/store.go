package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/loqui/messenger/internal/conversation"
	"github.com/loqui/messenger/internal/errs"
)

// MaxSearchResults caps cross-conversation search result counts.
const MaxSearchResults = 50

// maxReactionChars caps the length of a reaction symbol.
const maxReactionChars = 16

// Store is the durable message store. Membership is re-validated against the
// conversation registry on every operation — nothing about membership is
// cached here, so removal from a conversation takes effect immediately.
type Store struct {
	db    *sql.DB
	convs *conversation.Registry
}

// NewStore creates a Store sharing the database handle with the conversation
// registry so sends can update both atomically.
func NewStore(db *sql.DB, convs *conversation.Registry) *Store {
	return &Store{db: db, convs: convs}
}

// Send validates and persists a new message, stamps the sender's own read
// receipt, bumps every other active participant's unread counter, and
// refreshes the conversation's last-message preview — all in one
// transaction, so a failed send leaves nothing behind.
func (s *Store) Send(ctx context.Context, in SendInput) (*Message, error) {
	if in.Kind == "" {
		in.Kind = KindText
	}
	if err := ValidateContent(in.Kind, in.Content); err != nil {
		return nil, err
	}
	if err := ValidateMetadata(in.Kind, in.Metadata); err != nil {
		return nil, err
	}

	ok, err := s.convs.IsActiveParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		exists, err := s.convs.Exists(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errs.NotFoundf("conversation %s", in.ConversationID)
		}
		return nil, errs.Forbiddenf("sender is not a participant")
	}

	if in.ReplyToID != nil {
		if err := s.requireInConversation(ctx, *in.ReplyToID, in.ConversationID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	m := &Message{
		ID:              uuid.New(),
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		Kind:            in.Kind,
		Content:         in.Content,
		Metadata:        in.Metadata,
		ReplyToID:       in.ReplyToID,
		ForwardedFromID: in.ForwardedFromID,
		CreatedAt:       now,
		ReadBy:          map[string]time.Time{in.SenderID: now},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("message: send: begin: %w", err)
	}
	defer tx.Rollback()

	const insertMsg = `
		INSERT INTO messages (id, conversation_id, sender_id, kind, content,
		                      metadata, reply_to_id, forwarded_from_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var meta interface{}
	if len(m.Metadata) > 0 {
		meta = []byte(m.Metadata)
	}
	if _, err := tx.ExecContext(ctx, insertMsg,
		m.ID, m.ConversationID, m.SenderID, string(m.Kind), m.Content,
		meta, uuidOrNil(m.ReplyToID), uuidOrNil(m.ForwardedFromID), m.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("message: send: insert: %w", err)
	}

	const insertReceipt = `
		INSERT INTO read_receipts (id, message_id, conversation_id, user_id, read_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, insertReceipt,
		uuid.New(), m.ID, m.ConversationID, m.SenderID, now); err != nil {
		return nil, fmt.Errorf("message: send: sender receipt: %w", err)
	}

	if err := s.convs.IncrementUnread(ctx, tx, m.ConversationID, m.SenderID); err != nil {
		return nil, err
	}
	if err := s.convs.SetLastMessage(ctx, tx, m.ConversationID, m.Preview(), now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("message: send: commit: %w", err)
	}
	return m, nil
}

// Get returns a single message if it is visible to the requester.
func (s *Store) Get(ctx context.Context, id uuid.UUID, requesterID string) (*Message, error) {
	m, err := s.requireVisible(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if err := s.attachDetails(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// Edit updates a message's content. Only the sender may edit, and only
// within EditWindow of creation.
func (s *Store) Edit(ctx context.Context, id uuid.UUID, editorID, content string) (*Message, error) {
	m, err := s.requireVisible(ctx, id, editorID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, errs.Forbiddenf("only the sender may edit a message")
	}
	if time.Since(m.CreatedAt) > EditWindow {
		return nil, errs.Validationf("edit window expired")
	}
	if err := ValidateContent(KindText, content); err != nil {
		return nil, err
	}

	const query = `
		UPDATE messages SET content = $2, edited_at = now()
		WHERE id = $1
		RETURNING edited_at`
	var editedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, id, content).Scan(&editedAt); err != nil {
		return nil, fmt.Errorf("message: edit: %w", err)
	}
	m.Content = content
	m.EditedAt = &editedAt
	return m, nil
}

// Delete marks a message globally deleted. Sender-only; the row becomes a
// tombstone excluded from all reads but is never physically removed.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, requesterID string) (*Message, error) {
	m, err := s.requireVisible(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, errs.Forbiddenf("only the sender may delete a message")
	}

	const query = `
		UPDATE messages SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING deleted_at`
	var deletedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundf("message %s", id)
		}
		return nil, fmt.Errorf("message: delete: %w", err)
	}
	m.DeletedAt = &deletedAt
	return m, nil
}

// DeleteForSelf hides a message for the requester only. Idempotent.
func (s *Store) DeleteForSelf(ctx context.Context, id uuid.UUID, requesterID string) error {
	if _, err := s.requireVisible(ctx, id, requesterID); err != nil {
		return err
	}

	const query = `
		INSERT INTO message_hidden (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, id, requesterID); err != nil {
		return fmt.Errorf("message: delete for self: %w", err)
	}
	return nil
}

// React sets the user's reaction on a message, replacing any prior reaction
// by the same user.
func (s *Store) React(ctx context.Context, id uuid.UUID, userID, symbol string) (*Message, error) {
	if symbol == "" || utf8.RuneCountInString(symbol) > maxReactionChars {
		return nil, errs.Validationf("invalid reaction symbol")
	}
	m, err := s.requireVisible(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO message_reactions (message_id, user_id, symbol)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET symbol = EXCLUDED.symbol, created_at = now()`
	if _, err := s.db.ExecContext(ctx, query, id, userID, symbol); err != nil {
		return nil, fmt.Errorf("message: react: %w", err)
	}

	if err := s.attachDetails(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// Unreact clears the user's reaction, if any. Idempotent.
func (s *Store) Unreact(ctx context.Context, id uuid.UUID, userID string) (*Message, error) {
	m, err := s.requireVisible(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	const query = `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, query, id, userID); err != nil {
		return nil, fmt.Errorf("message: unreact: %w", err)
	}

	if err := s.attachDetails(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkRead records that the reader has read the message and resets their
// unread counter on the owning conversation. Re-marking an already-read
// message is a no-op that still succeeds; the second return value reports
// whether a new receipt was written.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID, readerID string) (*ReadReceipt, bool, error) {
	m, err := s.requireVisible(ctx, id, readerID)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("message: mark read: begin: %w", err)
	}
	defer tx.Rollback()

	receipt := &ReadReceipt{
		ID:             uuid.New(),
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		UserID:         readerID,
		ReadAt:         time.Now().UTC(),
	}

	const query = `
		INSERT INTO read_receipts (id, message_id, conversation_id, user_id, read_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, query,
		receipt.ID, receipt.MessageID, receipt.ConversationID, receipt.UserID, receipt.ReadAt)
	if err != nil {
		return nil, false, fmt.Errorf("message: mark read: %w", err)
	}
	inserted, _ := res.RowsAffected()

	if err := s.convs.ResetUnread(ctx, tx, m.ConversationID, readerID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("message: mark read: commit: %w", err)
	}
	return receipt, inserted == 1, nil
}

// BulkMarkRead marks a batch of messages read in one pass. Messages already
// read by the reader are skipped (no duplicate receipts), and the
// conversation's unread counter is reset exactly once. A nil ids slice means
// every unread message in the conversation.
//
// Returns the IDs for which a new receipt was written.
func (s *Store) BulkMarkRead(ctx context.Context, conversationID uuid.UUID, ids []uuid.UUID, readerID string) ([]uuid.UUID, error) {
	ok, err := s.convs.IsActiveParticipant(ctx, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFoundf("conversation %s", conversationID)
	}

	if ids == nil {
		ids, err = s.unreadIDs(ctx, conversationID, readerID)
		if err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("message: bulk mark read: begin: %w", err)
	}
	defer tx.Rollback()

	// The SELECT guard ties each receipt to a live message of this
	// conversation; IDs from other conversations are silently skipped,
	// and the conflict target skips already-read messages.
	const query = `
		INSERT INTO read_receipts (id, message_id, conversation_id, user_id, read_at)
		SELECT $1, m.id, m.conversation_id, $3, $4
		FROM messages m
		WHERE m.id = $2 AND m.conversation_id = $5 AND m.deleted_at IS NULL
		ON CONFLICT (message_id, user_id) DO NOTHING`

	now := time.Now().UTC()
	var newly []uuid.UUID
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, query, uuid.New(), id, readerID, now, conversationID)
		if err != nil {
			return nil, fmt.Errorf("message: bulk mark read: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			newly = append(newly, id)
		}
	}

	if err := s.convs.ResetUnread(ctx, tx, conversationID, readerID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("message: bulk mark read: commit: %w", err)
	}
	return newly, nil
}

// List returns one page of a conversation's messages. Stored newest-first,
// returned oldest-first within the page. Globally deleted messages and
// messages hidden for the requester are excluded.
func (s *Store) List(ctx context.Context, conversationID uuid.UUID, requesterID string, filter ListFilter) ([]*Message, PageInfo, error) {
	filter.clamp()

	ok, err := s.convs.IsActiveParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, PageInfo{}, err
	}
	if !ok {
		return nil, PageInfo{}, errs.NotFoundf("conversation %s", conversationID)
	}

	const query = `
		SELECT id, conversation_id, sender_id, kind, content, metadata,
		       reply_to_id, forwarded_from_id, created_at, edited_at, deleted_at
		FROM messages
		WHERE conversation_id = $1
		  AND deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = messages.id AND h.user_id = $2)
		  AND ($3 = '' OR kind = $3)
		  AND ($4 = '' OR content ILIKE '%' || $4 || '%')
		  AND ($5::timestamptz IS NULL OR created_at > $5)
		  AND ($6::timestamptz IS NULL OR created_at < $6)
		ORDER BY created_at DESC
		LIMIT $7 OFFSET $8`

	rows, err := s.db.QueryContext(ctx, query,
		conversationID, requesterID, string(filter.Kind), filter.Search,
		filter.After, filter.Before,
		filter.Limit+1, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, PageInfo{}, err
	}

	info := PageInfo{Page: filter.Page, Limit: filter.Limit, HasPrev: filter.Page > 1}
	if len(msgs) > filter.Limit {
		info.HasNext = true
		msgs = msgs[:filter.Limit]
	}

	// Oldest-first within the page for the caller.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if err := s.attachDetails(ctx, msgs); err != nil {
		return nil, PageInfo{}, err
	}
	return msgs, info, nil
}

// Search finds messages containing text across every conversation the
// requester currently participates in.
func (s *Store) Search(ctx context.Context, requesterID, text string, limit int) ([]*Message, error) {
	if text == "" {
		return nil, errs.Validationf("search text is empty")
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	const query = `
		SELECT m.id, m.conversation_id, m.sender_id, m.kind, m.content, m.metadata,
		       m.reply_to_id, m.forwarded_from_id, m.created_at, m.edited_at, m.deleted_at
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id
		 AND p.user_id = $1 AND p.deleted_at IS NULL
		JOIN conversations c ON c.id = m.conversation_id AND c.active
		WHERE m.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $1)
		  AND m.content ILIKE '%' || $2 || '%'
		ORDER BY m.created_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, requesterID, text, limit)
	if err != nil {
		return nil, fmt.Errorf("message: search: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachDetails(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// requireVisible loads a message and verifies the requester can currently
// see it: the message is not tombstoned, not hidden for them, and they are
// still an active participant of its conversation.
func (s *Store) requireVisible(ctx context.Context, id uuid.UUID, requesterID string) (*Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, kind, content, metadata,
		       reply_to_id, forwarded_from_id, created_at, edited_at, deleted_at
		FROM messages
		WHERE id = $1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if m.DeletedAt != nil {
		return nil, errs.NotFoundf("message %s", id)
	}

	var hidden bool
	const hiddenQuery = `
		SELECT EXISTS (
			SELECT 1 FROM message_hidden
			WHERE message_id = $1 AND user_id = $2)`
	if err := s.db.QueryRowContext(ctx, hiddenQuery, id, requesterID).Scan(&hidden); err != nil {
		return nil, fmt.Errorf("message: hidden check: %w", err)
	}
	if hidden {
		return nil, errs.NotFoundf("message %s", id)
	}

	ok, err := s.convs.IsActiveParticipant(ctx, m.ConversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFoundf("message %s", id)
	}
	return m, nil
}

func (s *Store) requireInConversation(ctx context.Context, id, conversationID uuid.UUID) error {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE id = $1 AND conversation_id = $2 AND deleted_at IS NULL)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id, conversationID).Scan(&ok); err != nil {
		return fmt.Errorf("message: reply target check: %w", err)
	}
	if !ok {
		return errs.Validationf("reply target is not in this conversation")
	}
	return nil
}

// unreadIDs returns the IDs of every message in the conversation the reader
// has not yet receipted, excluding their own messages.
func (s *Store) unreadIDs(ctx context.Context, conversationID uuid.UUID, readerID string) ([]uuid.UUID, error) {
	const query = `
		SELECT m.id
		FROM messages m
		WHERE m.conversation_id = $1
		  AND m.deleted_at IS NULL
		  AND m.sender_id <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM read_receipts r
			WHERE r.message_id = m.id AND r.user_id = $2)
		ORDER BY m.created_at`
	rows, err := s.db.QueryContext(ctx, query, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("message: unread ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("message: unread ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// attachDetails bulk-loads read receipts and reactions for a batch of
// messages.
func (s *Store) attachDetails(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[uuid.UUID]*Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID.String()
		byID[m.ID] = m
		m.ReadBy = make(map[string]time.Time)
		m.Reactions = make(map[string]string)
	}

	const receipts = `
		SELECT message_id, user_id, read_at
		FROM read_receipts
		WHERE message_id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, receipts, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("message: load receipts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mid uuid.UUID
		var user string
		var at time.Time
		if err := rows.Scan(&mid, &user, &at); err != nil {
			return fmt.Errorf("message: load receipts: scan: %w", err)
		}
		if m, ok := byID[mid]; ok {
			m.ReadBy[user] = at
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("message: load receipts: rows: %w", err)
	}

	const reactions = `
		SELECT message_id, user_id, symbol
		FROM message_reactions
		WHERE message_id = ANY($1)`
	rrows, err := s.db.QueryContext(ctx, reactions, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("message: load reactions: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var mid uuid.UUID
		var user, symbol string
		if err := rrows.Scan(&mid, &user, &symbol); err != nil {
			return fmt.Errorf("message: load reactions: scan: %w", err)
		}
		if m, ok := byID[mid]; ok {
			m.Reactions[user] = symbol
		}
	}
	return rrows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var (
		meta              []byte
		replyTo, fwdFrom  uuid.NullUUID
		editedAt, deleted sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content,
		&meta, &replyTo, &fwdFrom, &m.CreatedAt, &editedAt, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundf("message")
		}
		return nil, fmt.Errorf("message: scan: %w", err)
	}
	if len(meta) > 0 {
		m.Metadata = meta
	}
	if replyTo.Valid {
		id := replyTo.UUID
		m.ReplyToID = &id
	}
	if fwdFrom.Valid {
		id := fwdFrom.UUID
		m.ForwardedFromID = &id
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if deleted.Valid {
		t := deleted.Time
		m.DeletedAt = &t
	}
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func uuidOrNil(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
