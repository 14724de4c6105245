package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	messageColumns = "m.id, m.conversation_id, m.sender_id, u.name, u.avatar_url, m.content, m.message_type, " +
		"m.file_url, m.file_name, m.file_size, m.reply_to, m.status, m.read_at, m.is_edited, m.edited_at, " +
		"m.is_deleted_by_sender, m.deleted_at, m.created_at, m.updated_at"
	messageFrom = " FROM messages m JOIN users u ON u.id = m.sender_id "

	conversationColumns = "c.id, c.is_group, c.title, c.description, c.admin_id, " +
		"c.can_participants_add_members, c.last_message_id, c.created_at, c.updated_at"
)

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (db *PgChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (id, name, email, avatar_url, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id, name, email, avatar_url, created_at, updated_at",
		uuid.NewString(),
		params.Name,
		strings.ToLower(params.EmailAddress),
		params.AvatarUrl,
		params.PasswordHash,
		now,
	)

	var u User
	err := row.Scan(&u.Id, &u.Name, &u.EmailAddress, &u.AvatarUrl, &u.CreatedAt, &u.UpdatedAt)
	return u, translateErr(err)
}

func (db *PgChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, email, avatar_url, created_at, updated_at FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(&u.Id, &u.Name, &u.EmailAddress, &u.AvatarUrl, &u.CreatedAt, &u.UpdatedAt)
	return u, translateErr(err)
}

func (db *PgChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, email, avatar_url, password_hash, created_at, updated_at FROM users WHERE email = $1 LIMIT 1",
		strings.ToLower(email),
	)

	var u User
	err := row.Scan(&u.Id, &u.Name, &u.EmailAddress, &u.AvatarUrl, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, translateErr(err)
}

func (db *PgChatRepository) GetUsersByIds(ctx context.Context, ids []string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, name, email, avatar_url, created_at, updated_at FROM users WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Name, &u.EmailAddress, &u.AvatarUrl, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	id := uuid.NewString()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var adminId sql.NullString
		if params.AdminId != "" {
			adminId = sql.NullString{String: params.AdminId, Valid: true}
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (id, is_group, title, description, admin_id, can_participants_add_members, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $7)",
			id,
			params.IsGroup,
			params.Title,
			params.Description,
			adminId,
			params.CanParticipantsAddMembers,
			params.CreatedAt,
		)
		if err != nil {
			return err
		}

		for i, userId := range params.ParticipantIds {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO conversation_participants (conversation_id, user_id, position, joined_at) VALUES ($1, $2, $3, $4)",
				id, userId, i, params.CreatedAt,
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return Conversation{}, translateErr(err)
	}

	return db.GetConversation(ctx, id)
}

func scanConversation(row scanner) (Conversation, error) {
	var (
		c             Conversation
		adminId       sql.NullString
		lastMessageId sql.NullString
	)

	err := row.Scan(
		&c.Id,
		&c.IsGroup,
		&c.Title,
		&c.Description,
		&adminId,
		&c.CanParticipantsAddMembers,
		&lastMessageId,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	c.AdminId = adminId.String
	if lastMessageId.Valid {
		c.LastMessageId = &lastMessageId.String
	}

	return c, nil
}

// loadParticipants fills in the ordered participant lists of convs.
func loadParticipants(ctx context.Context, q querier, convs []Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	ids := make([]string, len(convs))
	index := make(map[string]int, len(convs))
	for i, c := range convs {
		ids[i] = c.Id
		index[c.Id] = i
	}

	rows, err := q.QueryContext(ctx,
		"SELECT cp.conversation_id, u.id, u.name, u.avatar_url FROM conversation_participants cp "+
			"JOIN users u ON u.id = cp.user_id WHERE cp.conversation_id = ANY($1) ORDER BY cp.position",
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			convId string
			p      Participant
		)
		if err := rows.Scan(&convId, &p.Id, &p.Name, &p.AvatarUrl); err != nil {
			return err
		}

		i := index[convId]
		convs[i].Participants = append(convs[i].Participants, p)
	}

	return rows.Err()
}

func (db *PgChatRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations c WHERE c.id = $1 LIMIT 1",
		id,
	)

	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, translateErr(err)
	}

	convs := []Conversation{c}
	if err := loadParticipants(ctx, db.conn, convs); err != nil {
		return Conversation{}, err
	}

	return convs[0], nil
}

func (db *PgChatRepository) FindDirectConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT c.id FROM conversations c "+
			"WHERE NOT c.is_group "+
			"AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $1) "+
			"AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $2) "+
			"LIMIT 1",
		userA,
		userB,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		return Conversation{}, translateErr(err)
	}

	return db.GetConversation(ctx, id)
}

func (db *PgChatRepository) ListConversationIds(ctx context.Context, userId string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT conversation_id FROM conversation_participants WHERE user_id = $1",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgChatRepository) ListConversations(ctx context.Context, userId string, limit, offset int) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations c "+
			"JOIN conversation_participants p ON p.conversation_id = c.id "+
			"WHERE p.user_id = $1 ORDER BY c.updated_at DESC, c.id DESC LIMIT $2 OFFSET $3",
		userId,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]Conversation, 0, limit)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadParticipants(ctx, db.conn, convs); err != nil {
		return nil, err
	}

	return convs, nil
}

func (db *PgChatRepository) AddParticipant(ctx context.Context, conversationId, userId string, at time.Time) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id, position, joined_at) "+
				"VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM conversation_participants WHERE conversation_id = $1), $3)",
			conversationId,
			userId,
			at,
		)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE conversations SET updated_at = $2 WHERE id = $1", conversationId, at)
		return err
	})

	return translateErr(err)
}

func (db *PgChatRepository) RemoveParticipant(ctx context.Context, conversationId, userId string, at time.Time) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2",
			conversationId,
			userId,
		)
		if err != nil {
			return err
		}

		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sql.ErrNoRows
		}

		_, err = tx.ExecContext(ctx, "UPDATE conversations SET updated_at = $2 WHERE id = $1", conversationId, at)
		return err
	})

	return translateErr(err)
}

func scanMessage(row scanner) (Message, error) {
	var (
		m         Message
		replyTo   sql.NullString
		readAt    sql.NullTime
		editedAt  sql.NullTime
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&m.Id,
		&m.ConversationId,
		&m.SenderId,
		&m.SenderName,
		&m.SenderAvatarUrl,
		&m.Content,
		&m.MessageType,
		&m.FileUrl,
		&m.FileName,
		&m.FileSize,
		&replyTo,
		&m.Status,
		&readAt,
		&m.IsEdited,
		&editedAt,
		&m.IsDeletedBySender,
		&deletedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if replyTo.Valid {
		m.ReplyTo = &replyTo.String
	}
	m.ReadAt = nullTime(readAt)
	m.EditedAt = nullTime(editedAt)
	m.DeletedAt = nullTime(deletedAt)

	return m, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// loadReceipts fills in the read receipts of msgs.
func loadReceipts(ctx context.Context, q querier, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Id
		index[m.Id] = i
	}

	rows, err := q.QueryContext(ctx,
		"SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY read_at",
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msgId string
			r     ReadReceipt
		)
		if err := rows.Scan(&msgId, &r.UserId, &r.ReadAt); err != nil {
			return err
		}

		i := index[msgId]
		msgs[i].ReadBy = append(msgs[i].ReadBy, r)
	}

	return rows.Err()
}

func (db *PgChatRepository) getMessage(ctx context.Context, q interface {
	querier
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (Message, error) {
	row := q.QueryRowContext(ctx, "SELECT "+messageColumns+messageFrom+"WHERE m.id = $1", id)
	m, err := scanMessage(row)
	if err != nil {
		return Message{}, translateErr(err)
	}

	msgs := []Message{m}
	if err := loadReceipts(ctx, q, msgs); err != nil {
		return Message{}, err
	}

	return msgs[0], nil
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	id := uuid.NewString()
	var msg Message
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var replyTo sql.NullString
		if params.ReplyTo != nil {
			replyTo = sql.NullString{String: *params.ReplyTo, Valid: true}
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO messages (id, conversation_id, sender_id, content, message_type, file_url, file_name, file_size, reply_to, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)",
			id,
			params.ConversationId,
			params.SenderId,
			params.Content,
			params.MessageType,
			params.FileUrl,
			params.FileName,
			params.FileSize,
			replyTo,
			params.CreatedAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET last_message_id = $1, updated_at = $2 WHERE id = $3",
			id,
			params.CreatedAt,
			params.ConversationId,
		)
		if err != nil {
			return err
		}

		msg, err = db.getMessage(ctx, tx, id)
		return err
	})

	return msg, translateErr(err)
}

func (db *PgChatRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	return db.getMessage(ctx, db.conn, id)
}

func (db *PgChatRepository) ListMessages(ctx context.Context, conversationId, viewerId string, limit, offset int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+messageFrom+
			"WHERE m.conversation_id = $1 AND NOT (m.is_deleted_by_sender AND m.sender_id = $2) "+
			"ORDER BY m.created_at DESC, m.id DESC LIMIT $3 OFFSET $4",
		conversationId,
		viewerId,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadReceipts(ctx, db.conn, msgs); err != nil {
		return nil, err
	}

	return msgs, nil
}

func (db *PgChatRepository) MarkMessageRead(ctx context.Context, messageId, userId string, at time.Time) (Message, bool, error) {
	var (
		msg     Message
		changed bool
	)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		// lock the row so a concurrent hard delete is serialized with the receipt
		var id string
		err := tx.QueryRowContext(ctx, "SELECT id FROM messages WHERE id = $1 FOR UPDATE", messageId).Scan(&id)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			messageId,
			userId,
			at,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0

		if changed {
			_, err = tx.ExecContext(ctx,
				"UPDATE messages SET status = 'read', read_at = COALESCE(read_at, $2), updated_at = $2 WHERE id = $1",
				messageId,
				at,
			)
			if err != nil {
				return err
			}
		}

		msg, err = db.getMessage(ctx, tx, messageId)
		return err
	})

	return msg, changed, translateErr(err)
}

func (db *PgChatRepository) MarkConversationRead(ctx context.Context, conversationId, userId string, at time.Time) (int, error) {
	var count int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO message_reads (message_id, user_id, read_at) "+
				"SELECT m.id, $2, $3 FROM messages m WHERE m.conversation_id = $1 AND m.sender_id <> $2 "+
				"ON CONFLICT DO NOTHING",
			conversationId,
			userId,
			at,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		count = int(n)

		_, err = tx.ExecContext(ctx,
			"UPDATE messages SET status = 'read', read_at = COALESCE(read_at, $3), updated_at = $3 "+
				"WHERE conversation_id = $1 AND sender_id <> $2 AND status = 'unread'",
			conversationId,
			userId,
			at,
		)
		return err
	})

	return count, translateErr(err)
}

func (db *PgChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string, at time.Time) (Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3, updated_at = $3 WHERE id = $1",
		messageId,
		content,
		at,
	)
	if err != nil {
		return Message{}, translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, ErrNotFound
	}

	return db.GetMessage(ctx, messageId)
}

func (db *PgChatRepository) SoftDeleteMessage(ctx context.Context, messageId string, at time.Time) (Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET is_deleted_by_sender = TRUE, deleted_at = $2, updated_at = $2 WHERE id = $1",
		messageId,
		at,
	)
	if err != nil {
		return Message{}, translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, ErrNotFound
	}

	return db.GetMessage(ctx, messageId)
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, messageId string) (*string, error) {
	var lastMessageId *string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var conversationId string
		err := tx.QueryRowContext(ctx,
			"SELECT conversation_id FROM messages WHERE id = $1 FOR UPDATE",
			messageId,
		).Scan(&conversationId)
		if err != nil {
			return err
		}

		var current sql.NullString
		err = tx.QueryRowContext(ctx,
			"SELECT last_message_id FROM conversations WHERE id = $1 FOR UPDATE",
			conversationId,
		).Scan(&current)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageId); err != nil {
			return err
		}

		if current.Valid && current.String != messageId {
			lastMessageId = &current.String
			return nil
		}

		var next sql.NullString
		err = tx.QueryRowContext(ctx,
			"UPDATE conversations SET last_message_id = "+
				"(SELECT id FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1) "+
				"WHERE id = $1 RETURNING last_message_id",
			conversationId,
		).Scan(&next)
		if err != nil {
			return err
		}

		if next.Valid {
			lastMessageId = &next.String
		}
		return nil
	})

	return lastMessageId, translateErr(err)
}

func (db *PgChatRepository) CountUnread(ctx context.Context, userId, conversationId string) (int, error) {
	query := "SELECT COUNT(*) FROM messages m " +
		"JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1 " +
		"WHERE m.sender_id <> $1 " +
		"AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $1)"
	args := []any{userId}
	if conversationId != "" {
		query += " AND m.conversation_id = $2"
		args = append(args, conversationId)
	}

	var count int
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, translateErr(err)
}
