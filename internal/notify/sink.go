package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/eventchat/internal/database"
	"github.com/segmentio/kafka-go"
)

// Sink records a single notification.
type Sink interface {
	Record(ctx context.Context, params database.CreateNotificationParams) error
}

// DatabaseSink writes notifications to the notifications table.
type DatabaseSink struct {
	db database.EventChatRepository
}

func NewDatabaseSink(db database.EventChatRepository) *DatabaseSink {
	return &DatabaseSink{db: db}
}

func (s *DatabaseSink) Record(_ context.Context, params database.CreateNotificationParams) error {
	_, err := s.db.CreateNotification(params)
	return err
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications as JSON records keyed by user id.
type KafkaSink struct {
	w messageWriter
}

type kafkaNotification struct {
	UserId    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	RelatedId int       `json:"relatedId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (s *KafkaSink) Record(ctx context.Context, params database.CreateNotificationParams) error {
	value, err := json.Marshal(kafkaNotification{
		UserId:    params.UserId,
		Type:      params.Type,
		Title:     params.Title,
		Content:   params.Content,
		RelatedId: params.RelatedId,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := s.w.WriteMessages(ctx, kafka.Message{Key: []byte(params.UserId), Value: value}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
