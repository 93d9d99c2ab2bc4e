package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/npezzotti/eventchat/internal/types"
)

const addReactionQuery = `
	UPDATE chat_messages
	SET metadata = jsonb_set(
		COALESCE(metadata, '{}'::jsonb),
		'{reactions}',
		COALESCE(metadata->'reactions', '{}'::jsonb) ||
			jsonb_build_object($3::text, COALESCE((metadata->'reactions'->>$3)::int, 0) + 1)
	)
	WHERE id = $2 AND event_id = $1
	RETURNING metadata->'reactions'`

func (db *PgEventChatRepository) CreateMessage(params CreateMessageParams) (types.Message, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return types.Message{}, err
	}

	res := db.conn.QueryRow(
		"INSERT INTO chat_messages (event_id, user_id, content, type, metadata) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		params.EventId,
		params.UserId,
		params.Content,
		params.Type,
		params.Metadata,
	)

	msg := types.Message{
		EventId:  params.EventId,
		UserId:   params.UserId,
		Content:  params.Content,
		Type:     params.Type,
		Metadata: params.Metadata,
	}
	if err := res.Scan(&msg.Id, &msg.CreatedAt); err != nil {
		return types.Message{}, &PersistenceError{Op: "create message", Err: err}
	}

	return msg, nil
}

// GetEventMessages returns the most recent messages of an event in
// chronological order, each hydrated with its sender's profile.
func (db *PgEventChatRepository) GetEventMessages(eventId, limit int) ([]types.Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.event_id, m.user_id, m.content, m.type, m.metadata, m.created_at, "+
			"u.first_name, u.username, u.profile_image_url "+
			"FROM chat_messages m LEFT JOIN users u ON u.id = m.user_id "+
			"WHERE m.event_id = $1 ORDER BY m.id DESC LIMIT $2",
		eventId,
		ClampLimit(limit),
	)
	if err != nil {
		return nil, &PersistenceError{Op: "get event messages", Err: err}
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		var (
			msg                            types.Message
			metadata                       []byte
			firstName, username, avatarUrl sql.NullString
		)

		if err := rows.Scan(
			&msg.Id,
			&msg.EventId,
			&msg.UserId,
			&msg.Content,
			&msg.Type,
			&metadata,
			&msg.CreatedAt,
			&firstName,
			&username,
			&avatarUrl,
		); err != nil {
			return nil, &PersistenceError{Op: "scan message", Err: err}
		}

		if len(metadata) > 0 {
			var md types.Metadata
			if err := json.Unmarshal(metadata, &md); err != nil {
				return nil, &PersistenceError{Op: "decode metadata", Err: err}
			}
			msg.Metadata = &md
		}

		msg.User = &types.User{
			Id:              msg.UserId,
			FirstName:       firstName.String,
			Username:        username.String,
			ProfileImageUrl: avatarUrl.String,
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "get event messages", Err: err}
	}

	slices.Reverse(messages)
	return messages, nil
}

// AddReaction increments the emoji's count in the message metadata and
// returns the resulting reactions map. It returns sql.ErrNoRows when the
// message does not belong to the event.
func (db *PgEventChatRepository) AddReaction(eventId, messageId int, emoji string) (map[string]int, error) {
	if emoji == "" {
		return nil, &ValidationError{Field: "emoji", Reason: "emoji is required"}
	}

	var raw []byte
	err := db.conn.QueryRow(addReactionQuery, eventId, messageId, emoji).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, &PersistenceError{Op: "add reaction", Err: err}
	}

	reactions := make(map[string]int)
	if err := json.Unmarshal(raw, &reactions); err != nil {
		return nil, &PersistenceError{Op: "decode reactions", Err: err}
	}

	return reactions, nil
}

func (db *PgEventChatRepository) GetEventParticipants(eventId int) ([]types.User, error) {
	rows, err := db.conn.Query(
		"SELECT p.user_id, u.first_name, u.username, u.profile_image_url "+
			"FROM event_participants p LEFT JOIN users u ON u.id = p.user_id "+
			"WHERE p.event_id = $1 AND p.status = 'active'",
		eventId,
	)
	if err != nil {
		return nil, fmt.Errorf("get event participants: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var (
			u                              types.User
			firstName, username, avatarUrl sql.NullString
		)
		if err := rows.Scan(&u.Id, &firstName, &username, &avatarUrl); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}

		u.FirstName = firstName.String
		u.Username = username.String
		u.ProfileImageUrl = avatarUrl.String
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgEventChatRepository) CreateNotification(params CreateNotificationParams) (types.Notification, error) {
	res := db.conn.QueryRow(
		"INSERT INTO notifications (user_id, type, title, content, related_id) "+
			"VALUES ($1, $2, $3, $4, NULLIF($5, 0)) RETURNING id, is_read, created_at",
		params.UserId,
		params.Type,
		params.Title,
		params.Content,
		params.RelatedId,
	)

	n := types.Notification{
		UserId:    params.UserId,
		Type:      params.Type,
		Title:     params.Title,
		Content:   params.Content,
		RelatedId: params.RelatedId,
	}
	err := res.Scan(&n.Id, &n.IsRead, &n.CreatedAt)

	return n, err
}

func (db *PgEventChatRepository) GetUserNotifications(userId string, limit int) ([]types.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT id, user_id, type, title, COALESCE(content, ''), COALESCE(related_id, 0), is_read, created_at "+
			"FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		userId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]types.Notification, 0, limit)
	for rows.Next() {
		var n types.Notification
		if err = rows.Scan(&n.Id, &n.UserId, &n.Type, &n.Title, &n.Content, &n.RelatedId, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgEventChatRepository) GetUnreadNotificationCount(userId string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = false",
		userId,
	).Scan(&count)

	return count, err
}

// MarkNotificationRead returns sql.ErrNoRows when the notification does not
// exist or belongs to another user.
func (db *PgEventChatRepository) MarkNotificationRead(id int, userId string) error {
	res, err := db.conn.Exec(
		"UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2",
		id,
		userId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}
