package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/loqui/messenger/internal/errs"
	"github.com/loqui/messenger/internal/identity"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// Registry is the durable conversation store. All visibility rules
// (per-user delete, archive) are enforced here at query time so removal from
// a conversation takes effect immediately.
type Registry struct {
	db  *sql.DB
	dir identity.Directory // optional; nil trusts upstream-validated IDs
}

// NewRegistry creates a Registry backed by the given database handle.
func NewRegistry(db *sql.DB, dir identity.Directory) *Registry {
	return &Registry{db: db, dir: dir}
}

// Create creates a conversation, or for kind=direct returns the existing
// active conversation for the same participant pair. The second return value
// reports whether a new conversation was created.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*Conversation, bool, error) {
	if err := in.normalize(); err != nil {
		return nil, false, err
	}
	if r.dir != nil {
		if err := r.dir.ResolveAll(ctx, in.Participants); err != nil {
			return nil, false, err
		}
	}

	var directKey sql.NullString
	if in.Kind == KindDirect {
		pair := sortedCopy(in.Participants)
		directKey = sql.NullString{String: DirectKey(pair[0], pair[1]), Valid: true}

		// Idempotent create: reuse the existing direct conversation. If the
		// creator had deleted it for themselves, reuse revives it.
		if existing, err := r.getByDirectKey(ctx, directKey.String); err == nil {
			if err := r.reviveParticipant(ctx, existing.ID, in.CreatorID); err != nil {
				return nil, false, err
			}
			return existing, false, nil
		} else if !errors.Is(err, errs.ErrNotFound) {
			return nil, false, err
		}
	}

	id := uuid.New()
	adminID := sql.NullString{}
	name := sql.NullString{}
	avatar := sql.NullString{}
	if in.Kind == KindGroup {
		adminID = sql.NullString{String: in.CreatorID, Valid: true}
		name = sql.NullString{String: in.Name, Valid: true}
		if in.AvatarURL != "" {
			avatar = sql.NullString{String: in.AvatarURL, Valid: true}
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("conversation: create: begin: %w", err)
	}
	defer tx.Rollback()

	const insertConv = `
		INSERT INTO conversations (id, kind, name, avatar_url, admin_id, direct_key)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insertConv, id, string(in.Kind), name, avatar, adminID, directKey); err != nil {
		// Two clients raced to create the same direct conversation: the
		// partial unique index rejects the loser, who re-reads the winner's
		// row instead of failing.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation && directKey.Valid {
			if existing, lookupErr := r.getByDirectKey(ctx, directKey.String); lookupErr == nil {
				if reviveErr := r.reviveParticipant(ctx, existing.ID, in.CreatorID); reviveErr != nil {
					return nil, false, reviveErr
				}
				return existing, false, nil
			}
			return nil, false, errs.Conflictf("direct conversation create raced")
		}
		return nil, false, fmt.Errorf("conversation: create: insert: %w", err)
	}

	const insertPart = `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)`
	for _, userID := range in.Participants {
		if _, err := tx.ExecContext(ctx, insertPart, id, userID); err != nil {
			return nil, false, fmt.Errorf("conversation: create: insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("conversation: create: commit: %w", err)
	}

	conv, err := r.getByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// Get returns the conversation only if the requester is an active,
// non-deleted-for-self participant. Anything else is NotFound so membership
// cannot be probed.
func (r *Registry) Get(ctx context.Context, id uuid.UUID, requesterID string) (*Conversation, error) {
	ok, err := r.IsActiveParticipant(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFoundf("conversation %s", id)
	}
	return r.getByID(ctx, id)
}

// ListForUser returns the user's conversation list, newest activity first,
// enriched with a preview of the most recent message visible to the user.
func (r *Registry) ListForUser(ctx context.Context, userID string, filter ListFilter) ([]*Summary, PageInfo, error) {
	filter.clamp()

	const query = `
		SELECT c.id, c.kind, c.name, c.avatar_url, c.admin_id,
		       c.last_message_text, c.last_message_at, c.active, c.created_at, c.updated_at,
		       m.id, m.sender_id, m.kind, m.content, m.created_at
		FROM conversations c
		JOIN conversation_participants p
		  ON p.conversation_id = c.id AND p.user_id = $1
		LEFT JOIN LATERAL (
			SELECT id, sender_id, kind, content, created_at
			FROM messages
			WHERE conversation_id = c.id
			  AND deleted_at IS NULL
			  AND NOT EXISTS (
				SELECT 1 FROM message_hidden h
				WHERE h.message_id = messages.id AND h.user_id = $1)
			ORDER BY created_at DESC
			LIMIT 1
		) m ON true
		WHERE c.active
		  AND p.deleted_at IS NULL
		  AND (($2 AND p.archived_at IS NOT NULL) OR (NOT $2 AND p.archived_at IS NULL))
		  AND ($3 = '' OR c.kind = $3)
		  AND ($4 = ''
		       OR c.name ILIKE '%' || $4 || '%'
		       OR EXISTS (
				SELECT 1 FROM conversation_participants p2
				WHERE p2.conversation_id = c.id AND p2.user_id ILIKE '%' || $4 || '%'))
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
		LIMIT $5 OFFSET $6`

	rows, err := r.db.QueryContext(ctx, query,
		userID, filter.Archived, string(filter.Kind), filter.Search,
		filter.Limit+1, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("conversation: list: %w", err)
	}
	defer rows.Close()

	var summaries []*Summary
	for rows.Next() {
		s := &Summary{}
		var (
			name, avatar, adminID          sql.NullString
			lastMsgAt                      sql.NullTime
			prevID                         sql.NullString
			prevSender, prevKind, prevText sql.NullString
			prevAt                         sql.NullTime
		)
		if err := rows.Scan(
			&s.ID, &s.Kind, &name, &avatar, &adminID,
			&s.LastMessageText, &lastMsgAt, &s.Active, &s.CreatedAt, &s.UpdatedAt,
			&prevID, &prevSender, &prevKind, &prevText, &prevAt,
		); err != nil {
			return nil, PageInfo{}, fmt.Errorf("conversation: list: scan: %w", err)
		}
		s.Name = name.String
		s.AvatarURL = avatar.String
		s.AdminID = adminID.String
		if lastMsgAt.Valid {
			t := lastMsgAt.Time
			s.LastMessageAt = &t
		}
		if prevID.Valid {
			mid, err := uuid.Parse(prevID.String)
			if err == nil {
				s.Preview = &Preview{
					MessageID: mid,
					SenderID:  prevSender.String,
					Kind:      prevKind.String,
					Content:   prevText.String,
					CreatedAt: prevAt.Time,
				}
			}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, PageInfo{}, fmt.Errorf("conversation: list: rows: %w", err)
	}

	info := PageInfo{Page: filter.Page, Limit: filter.Limit, HasPrev: filter.Page > 1}
	if len(summaries) > filter.Limit {
		info.HasNext = true
		summaries = summaries[:filter.Limit]
	}

	if err := r.attachParticipants(ctx, summaries); err != nil {
		return nil, PageInfo{}, err
	}
	return summaries, info, nil
}

// attachParticipants loads the participant rows for a page of summaries in
// one query.
func (r *Registry) attachParticipants(ctx context.Context, summaries []*Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	ids := make([]string, len(summaries))
	byID := make(map[uuid.UUID]*Summary, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID.String()
		byID[s.ID] = s
	}

	const query = `
		SELECT conversation_id, user_id, unread_count, archived_at, deleted_at, joined_at
		FROM conversation_participants
		WHERE conversation_id = ANY($1)
		ORDER BY joined_at`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("conversation: attach participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID uuid.UUID
		p, err := scanParticipant(rows, &convID)
		if err != nil {
			return err
		}
		if s, ok := byID[convID]; ok {
			s.Participants = append(s.Participants, p)
		}
	}
	return rows.Err()
}

// Update applies a group-settings patch. Only the current admin of a group
// conversation may call it; attempting it on a direct conversation fails
// with Forbidden.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, requesterID string, patch Patch) (*Conversation, error) {
	if patch.IsZero() {
		return nil, errs.Validationf("empty patch")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("conversation: update: begin: %w", err)
	}
	defer tx.Rollback()

	const lockQuery = `
		SELECT kind, admin_id FROM conversations
		WHERE id = $1 AND active
		FOR UPDATE`
	var kind string
	var adminID sql.NullString
	if err := tx.QueryRowContext(ctx, lockQuery, id).Scan(&kind, &adminID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundf("conversation %s", id)
		}
		return nil, fmt.Errorf("conversation: update: lock: %w", err)
	}

	members, err := memberIDsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	// The requester's own delete-for-self stamp does not end their
	// membership, so check it separately: a hidden-but-joined participant
	// still gets the Forbidden answer below, not NotFound.
	const requesterQuery = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2)`
	var isMember bool
	if err := tx.QueryRowContext(ctx, requesterQuery, id, requesterID).Scan(&isMember); err != nil {
		return nil, fmt.Errorf("conversation: update: requester lookup: %w", err)
	}
	if !isMember {
		return nil, errs.NotFoundf("conversation %s", id)
	}
	if Kind(kind) != KindGroup {
		return nil, errs.Forbiddenf("direct conversations have no settings")
	}
	if adminID.String != requesterID {
		return nil, errs.Forbiddenf("only the group admin may change settings")
	}

	if patch.AdminID != nil && !contains(members, *patch.AdminID) {
		return nil, errs.Validationf("new admin %s is not a participant", *patch.AdminID)
	}
	for _, rm := range patch.RemoveParticipants {
		if rm == adminID.String && (patch.AdminID == nil || *patch.AdminID == rm) {
			return nil, errs.Validationf("cannot remove the admin; transfer admin first")
		}
	}

	// Membership changes keep the participant count inside bounds.
	next := len(members)
	for _, add := range patch.AddParticipants {
		if !contains(members, add) {
			next++
		}
	}
	for _, rm := range patch.RemoveParticipants {
		if contains(members, rm) {
			next--
		}
	}
	if next < MinParticipants || next > MaxParticipants {
		return nil, errs.Validationf("participant count %d out of bounds [%d, %d]",
			next, MinParticipants, MaxParticipants)
	}
	if r.dir != nil && len(patch.AddParticipants) > 0 {
		if err := r.dir.ResolveAll(ctx, patch.AddParticipants); err != nil {
			return nil, err
		}
	}

	const addPart = `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET deleted_at = NULL`
	for _, add := range patch.AddParticipants {
		if _, err := tx.ExecContext(ctx, addPart, id, add); err != nil {
			return nil, fmt.Errorf("conversation: update: add participant: %w", err)
		}
	}

	const rmPart = `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2`
	for _, rm := range patch.RemoveParticipants {
		if _, err := tx.ExecContext(ctx, rmPart, id, rm); err != nil {
			return nil, fmt.Errorf("conversation: update: remove participant: %w", err)
		}
	}

	const updConv = `
		UPDATE conversations
		SET name       = COALESCE($2, name),
		    avatar_url = COALESCE($3, avatar_url),
		    admin_id   = COALESCE($4, admin_id),
		    updated_at = now()
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updConv, id, patch.Name, patch.AvatarURL, patch.AdminID); err != nil {
		return nil, fmt.Errorf("conversation: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("conversation: update: commit: %w", err)
	}
	return r.getByID(ctx, id)
}

// Archive sets the per-user archived stamp.
func (r *Registry) Archive(ctx context.Context, id uuid.UUID, userID string) error {
	return r.setParticipantStamp(ctx, id, userID, "archive")
}

// Unarchive clears the per-user archived stamp.
func (r *Registry) Unarchive(ctx context.Context, id uuid.UUID, userID string) error {
	return r.setParticipantStamp(ctx, id, userID, "unarchive")
}

// SoftDelete hides the conversation for one participant without affecting
// anyone else's view. The conversation row is never physically removed.
func (r *Registry) SoftDelete(ctx context.Context, id uuid.UUID, userID string) error {
	return r.setParticipantStamp(ctx, id, userID, "delete")
}

// participantStamps holds the fixed per-user flag mutations. All of them
// require the row to still be visible to the user (deleted_at IS NULL), which
// also makes soft delete idempotent from the caller's point of view: a second
// delete finds no visible row and reports NotFound like any other invisible
// conversation.
var participantStamps = map[string]string{
	"archive": `
		UPDATE conversation_participants
		SET archived_at = now()
		WHERE conversation_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
	"unarchive": `
		UPDATE conversation_participants
		SET archived_at = NULL
		WHERE conversation_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
	"delete": `
		UPDATE conversation_participants
		SET deleted_at = now()
		WHERE conversation_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
}

func (r *Registry) setParticipantStamp(ctx context.Context, id uuid.UUID, userID, op string) error {
	res, err := r.db.ExecContext(ctx, participantStamps[op], id, userID)
	if err != nil {
		return fmt.Errorf("conversation: %s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("conversation %s", id)
	}
	return nil
}

// Execer is the subset of *sql.DB and *sql.Tx the derived-field updates
// need. The message store passes its own transaction so a send commits the
// message, the unread increments, and the last-message preview atomically.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// IncrementUnread bumps the unread counter of every active participant
// except the sender, using a single atomic update so concurrent sends never
// lose increments. A nil Execer runs against the registry's own handle.
func (r *Registry) IncrementUnread(ctx context.Context, ex Execer, id uuid.UUID, excludingUserID string) error {
	if ex == nil {
		ex = r.db
	}

	// New activity revives participants who had deleted the conversation
	// for themselves; their counter restarts from the new message alone.
	const revive = `
		UPDATE conversation_participants
		SET deleted_at = NULL, unread_count = 0
		WHERE conversation_id = $1 AND deleted_at IS NOT NULL`
	if _, err := ex.ExecContext(ctx, revive, id); err != nil {
		return fmt.Errorf("conversation: revive participants: %w", err)
	}

	const query = `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2`
	if _, err := ex.ExecContext(ctx, query, id, excludingUserID); err != nil {
		return fmt.Errorf("conversation: increment unread: %w", err)
	}
	return nil
}

// ResetUnread zeroes the unread counter for one participant.
func (r *Registry) ResetUnread(ctx context.Context, ex Execer, id uuid.UUID, userID string) error {
	if ex == nil {
		ex = r.db
	}
	const query = `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2`
	if _, err := ex.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("conversation: reset unread: %w", err)
	}
	return nil
}

// SetLastMessage updates the denormalized last-message preview on the
// conversation row.
func (r *Registry) SetLastMessage(ctx context.Context, ex Execer, id uuid.UUID, preview string, at time.Time) error {
	if ex == nil {
		ex = r.db
	}
	const query = `
		UPDATE conversations
		SET last_message_text = $2, last_message_at = $3, updated_at = now()
		WHERE id = $1`
	if _, err := ex.ExecContext(ctx, query, id, preview, at); err != nil {
		return fmt.Errorf("conversation: set last message: %w", err)
	}
	return nil
}

// reviveParticipant clears a participant's delete-for-self stamp, if set.
func (r *Registry) reviveParticipant(ctx context.Context, id uuid.UUID, userID string) error {
	const query = `
		UPDATE conversation_participants
		SET deleted_at = NULL, unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2 AND deleted_at IS NOT NULL`
	if _, err := r.db.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("conversation: revive participant: %w", err)
	}
	return nil
}

// Exists reports whether an active conversation with the given ID exists,
// regardless of who asks. Callers use it to tell NotFound from Forbidden.
func (r *Registry) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 AND active)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("conversation: exists: %w", err)
	}
	return ok, nil
}

// IsActiveParticipant reports whether userID is a participant who has not
// deleted the conversation for themselves.
func (r *Registry) IsActiveParticipant(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM conversation_participants p
			JOIN conversations c ON c.id = p.conversation_id
			WHERE p.conversation_id = $1 AND p.user_id = $2
			  AND p.deleted_at IS NULL AND c.active)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("conversation: membership check: %w", err)
	}
	return ok, nil
}

// MemberIDs returns the user IDs of all active participants.
func (r *Registry) MemberIDs(ctx context.Context, id uuid.UUID) ([]string, error) {
	const query = `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1 AND deleted_at IS NULL
		ORDER BY joined_at`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("conversation: member ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IDsForUser returns the IDs of every active conversation the user currently
// participates in. The gateway uses this to auto-subscribe fresh connections.
func (r *Registry) IDsForUser(ctx context.Context, userID string) ([]uuid.UUID, error) {
	const query = `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND p.deleted_at IS NULL AND c.active`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: ids for user: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("conversation: ids for user: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// getByID loads a conversation with its participant rows, without any
// visibility check. Internal callers apply their own.
func (r *Registry) getByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	const query = `
		SELECT id, kind, name, avatar_url, admin_id,
		       last_message_text, last_message_at, active, created_at, updated_at
		FROM conversations
		WHERE id = $1`
	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	const partQuery = `
		SELECT conversation_id, user_id, unread_count, archived_at, deleted_at, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at`
	rows, err := r.db.QueryContext(ctx, partQuery, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID uuid.UUID
		p, err := scanParticipant(rows, &convID)
		if err != nil {
			return nil, err
		}
		conv.Participants = append(conv.Participants, p)
	}
	return conv, rows.Err()
}

func (r *Registry) getByDirectKey(ctx context.Context, key string) (*Conversation, error) {
	const query = `
		SELECT id FROM conversations
		WHERE direct_key = $1 AND active`
	var id uuid.UUID
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundf("direct conversation")
		}
		return nil, fmt.Errorf("conversation: lookup direct: %w", err)
	}
	return r.getByID(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	c := &Conversation{}
	var (
		name, avatar, adminID sql.NullString
		lastMsgAt             sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Kind, &name, &avatar, &adminID,
		&c.LastMessageText, &lastMsgAt, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundf("conversation")
		}
		return nil, fmt.Errorf("conversation: scan: %w", err)
	}
	c.Name = name.String
	c.AvatarURL = avatar.String
	c.AdminID = adminID.String
	if lastMsgAt.Valid {
		t := lastMsgAt.Time
		c.LastMessageAt = &t
	}
	return c, nil
}

func scanParticipant(row rowScanner, convID *uuid.UUID) (Participant, error) {
	var p Participant
	var archivedAt, deletedAt sql.NullTime
	if err := row.Scan(convID, &p.UserID, &p.UnreadCount, &archivedAt, &deletedAt, &p.JoinedAt); err != nil {
		return p, fmt.Errorf("conversation: scan participant: %w", err)
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		p.ArchivedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return p, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func memberIDsTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) ([]string, error) {
	const query = `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1 AND deleted_at IS NULL`
	rows, err := tx.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("conversation: member ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
