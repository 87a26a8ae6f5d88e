package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/sentinel-ingest/internal/config"
	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"id_str":"1"}`),
		Topic:     "raw-posts",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("firehose")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"id_str":"1"}`, string(raw.Value))
	assert.Equal(t, "raw-posts", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "firehose", raw.Headers["source"])
	assert.Nil(t, raw.Commit, "commit is attached by Next, not by the mapper")
}

func TestSerializeToMessage(t *testing.T) {
	created := time.Date(2018, 10, 10, 20, 19, 24, 0, time.UTC)
	rec := domain.Record{
		ID:        "1050118621198921728",
		Text:      "a b",
		Longitude: 10.0,
		Latitude:  20.0,
		Exact:     true,
		AuthorID:  "9",
		CreatedAt: created,
	}

	msg, err := serializeToMessage(rec)
	require.NoError(t, err)

	assert.Equal(t, []byte("1050118621198921728"), msg.Key)

	var decoded domain.Record
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, rec, decoded)

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "exact", msg.Headers[0].Key)
	assert.Equal(t, []byte("true"), msg.Headers[0].Value)
	assert.Equal(t, "created_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(created.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeToMessage_CentroidHeader(t *testing.T) {
	msg, err := serializeToMessage(domain.Record{ID: "2", Exact: false})
	require.NoError(t, err)
	assert.Equal(t, []byte("false"), msg.Headers[0].Value)
}

func TestReader_NextBeforeConnect(t *testing.T) {
	cfg := &config.Config{
		KafkaBrokers:     []string{"localhost:9092"},
		KafkaSourceTopic: "raw-posts",
		KafkaGroupID:     "test",
		StreamMaxRetries: 0,
		StreamBackoffMax: time.Second,
	}
	r := NewReader(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := r.Next(context.Background())
	require.Error(t, err)
	assert.NoError(t, r.Close())
}

func TestWriter_WriteRaw_Empty(t *testing.T) {
	w := NewTopicWriter([]string{"localhost:9092"}, "raw-posts", slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer w.Close()

	assert.NoError(t, w.WriteRaw(context.Background()))
}
