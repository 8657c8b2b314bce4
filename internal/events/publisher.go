// Package events はチェックインイベントを外部（ダッシュボード集計など）へ配信する。
// 配信はベストエフォートであり、失敗しても入館判定の結果は変わらない。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventTypeCheckIn はチェックイン成功イベントの種別。
const EventTypeCheckIn = "checkin.granted"

// CheckInEvent はチェックイン成功時に配信するイベント。
type CheckInEvent struct {
	CheckInID   string    `json:"checkin_id"`
	SubjectID   string    `json:"subject_id"`
	GymID       string    `json:"gym_id"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Publisher はチェックインイベントの配信先。
type Publisher interface {
	PublishCheckIn(ctx context.Context, event CheckInEvent) error
	Close() error
}

// MessageWriter はkafka.Writerのうち配信に使う部分。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher はKafkaトピックへイベントを配信する。
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher はbrokersとtopicからKafkaPublisherを生成する。
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	})
}

// NewKafkaPublisherWithWriter は任意のwriterでKafkaPublisherを生成する。
func NewKafkaPublisherWithWriter(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// PublishCheckIn はジムIDをキーとしてイベントを配信する。同じジムのイベントは同じパーティションに入る。
func (p *KafkaPublisher) PublishCheckIn(ctx context.Context, event CheckInEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal check-in event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.GymID),
		Value:   payload,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(EventTypeCheckIn)}},
	})
	if err != nil {
		return fmt.Errorf("failed to publish check-in event: %w", err)
	}
	return nil
}

// Close はwriterを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher はイベントを破棄する。Kafka未設定時に使用する。
type NopPublisher struct{}

// PublishCheckIn は何もしない。
func (NopPublisher) PublishCheckIn(context.Context, CheckInEvent) error { return nil }

// Close は何もしない。
func (NopPublisher) Close() error { return nil }

// compile-time interface checks
var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NopPublisher{}
)
