package database

import (
	"github.com/npezzotti/eventchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockEventChatRepository struct {
	mock.Mock
}

func (m *MockEventChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockEventChatRepository) CreateMessage(params CreateMessageParams) (types.Message, error) {
	args := m.Called(params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockEventChatRepository) GetEventMessages(eventId, limit int) ([]types.Message, error) {
	args := m.Called(eventId, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockEventChatRepository) AddReaction(eventId, messageId int, emoji string) (map[string]int, error) {
	args := m.Called(eventId, messageId, emoji)
	if reactions, ok := args.Get(0).(map[string]int); ok {
		return reactions, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockEventChatRepository) GetEventParticipants(eventId int) ([]types.User, error) {
	args := m.Called(eventId)
	if users, ok := args.Get(0).([]types.User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockEventChatRepository) CreateNotification(params CreateNotificationParams) (types.Notification, error) {
	args := m.Called(params)
	return args.Get(0).(types.Notification), args.Error(1)
}
func (m *MockEventChatRepository) GetUserNotifications(userId string, limit int) ([]types.Notification, error) {
	args := m.Called(userId, limit)
	if n, ok := args.Get(0).([]types.Notification); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockEventChatRepository) GetUnreadNotificationCount(userId string) (int, error) {
	args := m.Called(userId)
	return args.Int(0), args.Error(1)
}
func (m *MockEventChatRepository) MarkNotificationRead(id int, userId string) error {
	args := m.Called(id, userId)
	return args.Error(0)
}
