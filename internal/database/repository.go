package database

import "github.com/npezzotti/eventchat/internal/types"

type EventChatRepository interface {
	Ping() error
	CreateMessage(params CreateMessageParams) (types.Message, error)
	GetEventMessages(eventId, limit int) ([]types.Message, error)
	AddReaction(eventId, messageId int, emoji string) (map[string]int, error)
	GetEventParticipants(eventId int) ([]types.User, error)
	CreateNotification(params CreateNotificationParams) (types.Notification, error)
	GetUserNotifications(userId string, limit int) ([]types.Notification, error)
	GetUnreadNotificationCount(userId string) (int, error)
	MarkNotificationRead(id int, userId string) error
}
