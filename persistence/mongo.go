package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/BaSui01/callflow/config"
)

// eventDocument 是写入 MongoDB 的文档，_id 为事件幂等键
type eventDocument struct {
	ID        string    `bson:"_id"`
	Type      EventType `bson:"type"`
	SessionID string    `bson:"session_id"`
	CallSID   string    `bson:"call_sid,omitempty"`

	Turn          int64     `bson:"turn,omitempty"`
	Transcript    string    `bson:"transcript,omitempty"`
	Response      string    `bson:"response,omitempty"`
	STTProvider   string    `bson:"stt_provider,omitempty"`
	TTSProvider   string    `bson:"tts_provider,omitempty"`
	BytesIn       int64     `bson:"bytes_in,omitempty"`
	BytesOut      int64     `bson:"bytes_out,omitempty"`
	TranscribedAt time.Time `bson:"transcribed_at,omitempty"`
	RespondedAt   time.Time `bson:"responded_at,omitempty"`

	Reason        string `bson:"reason,omitempty"`
	Turns         int64  `bson:"turns,omitempty"`
	Completed     int64  `bson:"completed,omitempty"`
	InboundDrops  int64  `bson:"inbound_drops,omitempty"`
	OutboundDrops int64  `bson:"outbound_drops,omitempty"`

	StartedAt  time.Time `bson:"started_at"`
	EndedAt    time.Time `bson:"ended_at"`
	RecordedAt time.Time `bson:"recorded_at"`
}

func toDocument(ev Event, now time.Time) (eventDocument, error) {
	doc := eventDocument{ID: ev.Key(), Type: ev.Type, SessionID: ev.SessionID(), RecordedAt: now}
	switch {
	case ev.Turn != nil:
		t := ev.Turn
		doc.CallSID = t.CallSID
		doc.Turn = t.Turn
		doc.Transcript = t.Transcript
		doc.Response = t.Response
		doc.STTProvider = t.STTProvider
		doc.TTSProvider = t.TTSProvider
		doc.BytesIn = t.BytesIn
		doc.BytesOut = t.BytesOut
		doc.TranscribedAt = t.TranscribedAt
		doc.RespondedAt = t.RespondedAt
		doc.StartedAt = t.StartedAt
		doc.EndedAt = t.EndedAt
	case ev.Session != nil:
		s := ev.Session
		doc.CallSID = s.CallSID
		doc.Reason = s.Reason
		doc.Turns = s.Turns
		doc.Completed = s.Completed
		doc.InboundDrops = s.InboundDrops
		doc.OutboundDrops = s.OutboundDrops
		doc.StartedAt = s.StartedAt
		doc.EndedAt = s.EndedAt
	default:
		return eventDocument{}, fmt.Errorf("empty %s event", ev.Type)
	}
	if doc.ID == "" {
		return eventDocument{}, fmt.Errorf("%s event without id", ev.Type)
	}
	return doc, nil
}

// documentCollection 是 MongoSink 用到的集合操作
type documentCollection interface {
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error)
}

// MongoSink upserts one document per event into a collection.
type MongoSink struct {
	coll   documentCollection
	client *mongo.Client
	now    func() time.Time
}

// NewMongoSink connects, verifies the primary and ensures the session index.
func NewMongoSink(ctx context.Context, cfg config.MongoConfig) (*MongoSink, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateMany(pingCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "turn", Value: 1}}},
		{Keys: bson.D{{Key: "call_sid", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to create mongo indexes: %w", err)
	}

	return &MongoSink{coll: coll, client: client, now: time.Now}, nil
}

// Name implements Sink.
func (s *MongoSink) Name() string { return "mongo" }

// Write implements Sink.
func (s *MongoSink) Write(ctx context.Context, ev Event) error {
	doc, err := toDocument(ev, s.now().UTC())
	if err != nil {
		return err
	}
	_, err = s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo upsert %s: %w", ev.Type, err)
	}
	return nil
}

// Ping implements Pinger.
func (s *MongoSink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close implements Sink.
func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
