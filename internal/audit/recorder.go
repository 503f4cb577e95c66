package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pin-auth-service/internal/bucketing"
	"pin-auth-service/internal/client"
	"pin-auth-service/internal/config"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/util"
)

const sinkTimeout = 5 * time.Second

// Recorder fans security events out to Kafka, ClickHouse and Elasticsearch.
// Every sink is optional; a sink failure is logged and swallowed, never
// surfaced to the request that produced the event.
type Recorder struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	elastic    *client.ESClient
	buckets    *bucketing.Manager

	kafkaTopic   string
	elasticIndex string
}

func NewRecorder(
	cfg *config.Config,
	kafka *client.KafkaProducer,
	clickhouse *client.ClickHouseClient,
	elastic *client.ESClient,
	buckets *bucketing.Manager,
) *Recorder {
	return &Recorder{
		kafka:        kafka,
		clickhouse:   clickhouse,
		elastic:      elastic,
		buckets:      buckets,
		kafkaTopic:   cfg.Kafka.Topic,
		elasticIndex: cfg.Elastic.Index,
	}
}

// Record stamps the event and writes it to every configured sink in the
// background. The caller's context is not used; the request must not wait on
// or fail with the audit pipeline.
func (r *Recorder) Record(event models.SecurityEvent) {
	event.EventID = uuid.New().String()
	event.EventBucket = r.buckets.EventBucket(event.UserID)
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	go r.emit(event)
}

func (r *Recorder) emit(event models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if r.kafka != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("Failed to marshal security event", zap.Error(err))
			return
		}
		if err := r.kafka.ProduceMessage(ctx, r.kafkaTopic, []byte(event.UserID), payload, map[string]string{
			"event_type": event.EventType,
		}); err != nil {
			util.Error("Failed to publish security event to Kafka",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if r.clickhouse != nil {
		err := r.clickhouse.Exec(ctx, `
            INSERT INTO security_events (
                event_bucket, event_id, user_id, device_id,
                event_time, event_type, request_id, details
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.EventBucket, event.EventID, event.UserID, event.DeviceID,
			event.EventTime, event.EventType, event.RequestID, event.Details)
		if err != nil {
			util.Error("Failed to insert security event into ClickHouse",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if r.elastic != nil {
		res, err := r.elastic.IndexDocument(ctx, r.elasticIndex, event.EventID, event)
		if err != nil {
			util.Error("Failed to index security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		} else {
			res.Body.Close()
		}
	}
}
