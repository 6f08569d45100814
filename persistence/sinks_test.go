package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/cache"
	"github.com/BaSui01/callflow/internal/database"
	"github.com/BaSui01/callflow/testutil/fixtures"
)

func sessionEvent(sessionID string) Event {
	start := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	return Event{Type: EventSessionEnded, Session: &SessionEnded{
		ID:           sessionID + ":ended",
		SessionID:    sessionID,
		CallSID:      fixtures.CallSID,
		Reason:       "caller_hangup",
		Turns:        3,
		Completed:    2,
		InboundDrops: 4,
		StartedAt:    start,
		EndedAt:      start.Add(3 * time.Minute),
	}}
}

func turnEventOf(sessionID string, seq int64) Event {
	ev := turnEvent(sessionID, seq)
	return Event{Type: EventTurnCompleted, Turn: &ev}
}

// =============================================================================
// Memory
// =============================================================================

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	ev := turnEventOf("s1", 2)
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.Write(ctx, turnEventOf("s1", 1)))
	require.NoError(t, sink.Write(ctx, sessionEvent("s1")))

	assert.Equal(t, 3, sink.Len())
	turns := sink.Turns("s1")
	require.Len(t, turns, 2)
	assert.EqualValues(t, 1, turns[0].Turn)
	assert.EqualValues(t, 2, turns[1].Turn)
	assert.Empty(t, sink.Turns("other"))

	_, ok := sink.Session("other")
	assert.False(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, sink.Write(cancelled, turnEventOf("s1", 3)))
}

func TestEventAccessors(t *testing.T) {
	turn := turnEventOf("s1", 1)
	assert.Equal(t, turn.Turn.ID, turn.Key())
	assert.Equal(t, "s1", turn.SessionID())

	sess := sessionEvent("s2")
	assert.Equal(t, "s2:ended", sess.Key())
	assert.Equal(t, "s2", sess.SessionID())

	assert.Empty(t, Event{}.Key())
	assert.Empty(t, Event{}.SessionID())
}

// =============================================================================
// Redis
// =============================================================================

func setupRedisSink(t *testing.T) (*miniredis.Miniredis, *RedisSink) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, NewRedisSink(manager, cfg)
}

func TestRedisSink_WritesStreamAndTranscript(t *testing.T) {
	mr, sink := setupRedisSink(t)
	ctx := context.Background()

	first := turnEventOf("s1", 1)
	require.NoError(t, sink.Write(ctx, first))
	require.NoError(t, sink.Write(ctx, turnEventOf("s1", 2)))
	require.NoError(t, sink.Write(ctx, sessionEvent("s1")))

	n, err := sink.manager.Client().XLen(ctx, "callflow:turns").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	transcript, err := sink.Transcript(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, first.Turn.ID, transcript[0].ID)
	assert.Equal(t, "hello", transcript[0].Transcript)
	assert.Equal(t, "hi there", transcript[0].Response)

	assert.Equal(t, "caller_hangup", mr.HGet("callflow:session:s1", "reason"))
	assert.Equal(t, "2", mr.HGet("callflow:session:s1", "completed"))
	assert.Equal(t, 24*time.Hour, mr.TTL("callflow:session:s1:transcript"))
}

func TestRedisSink_DuplicateIsIgnored(t *testing.T) {
	_, sink := setupRedisSink(t)
	ctx := context.Background()

	ev := turnEventOf("s1", 1)
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.Write(ctx, ev))

	n, err := sink.manager.Client().XLen(ctx, "callflow:turns").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	transcript, err := sink.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, transcript, 1)
}

func TestRedisSink_StreamPayloadDecodes(t *testing.T) {
	_, sink := setupRedisSink(t)
	ctx := context.Background()

	ev := turnEventOf("s9", 4)
	require.NoError(t, sink.Write(ctx, ev))

	msgs, err := sink.manager.Client().XRange(ctx, "callflow:turns", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(EventTurnCompleted), msgs[0].Values["type"])
	assert.Equal(t, "s9", msgs[0].Values["session_id"])

	var got TurnCompleted
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got))
	assert.EqualValues(t, 4, got.Turn)
}

func TestRedisSink_FailureReleasesClaim(t *testing.T) {
	mr, sink := setupRedisSink(t)
	ctx := context.Background()

	// 把 transcript 键占成 string 类型让 RPUSH 失败
	ev := turnEventOf("s1", 1)
	require.NoError(t, mr.Set("callflow:session:s1:transcript", "not-a-list"))
	assert.Error(t, sink.Write(ctx, ev))
	assert.False(t, mr.Exists("callflow:event:"+ev.Key()))

	mr.Del("callflow:session:s1:transcript")
	require.NoError(t, sink.Write(ctx, ev))
	transcript, err := sink.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, transcript, 1)
}

// =============================================================================
// GORM
// =============================================================================

func setupGormSink(t *testing.T) *GormSink {
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = "file::memory:"
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.HealthCheckInterval = 0

	pm, err := database.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	sink, err := NewGormSink(pm, true)
	require.NoError(t, err)
	return sink
}

func TestGormSink_WritesTurnsAndSession(t *testing.T) {
	sink := setupGormSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, turnEventOf("s1", 2)))
	require.NoError(t, sink.Write(ctx, turnEventOf("s1", 1)))
	require.NoError(t, sink.Write(ctx, turnEventOf("s2", 1)))
	require.NoError(t, sink.Write(ctx, sessionEvent("s1")))

	turns, err := sink.Turns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.EqualValues(t, 1, turns[0].Turn)
	assert.EqualValues(t, 2, turns[1].Turn)
	assert.Equal(t, "hello", turns[0].Transcript)
	assert.Equal(t, fixtures.CallSID, turns[0].CallSID)

	rec, err := sink.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "caller_hangup", rec.Reason)
	assert.EqualValues(t, 2, rec.Completed)
	assert.EqualValues(t, 4, rec.InboundDrops)

	_, err = sink.Session(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGormSink_DuplicateIsIgnored(t *testing.T) {
	sink := setupGormSink(t)
	ctx := context.Background()

	ev := turnEventOf("s1", 1)
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.Write(ctx, sessionEvent("s1")))
	require.NoError(t, sink.Write(ctx, sessionEvent("s1")))

	turns, err := sink.Turns(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestGormSink_RejectsEmptyEvent(t *testing.T) {
	sink := setupGormSink(t)
	assert.Error(t, sink.Write(context.Background(), Event{Type: EventTurnCompleted}))
}

func TestGormSink_WriteErrorSurfaces(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	pm, err := database.NewPoolManager(gormDB, database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	sink, err := NewGormSink(pm, false)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "call_turns"`).WillReturnError(errors.New("permission denied for table call_turns"))
	mock.ExpectRollback()

	err = sink.Write(context.Background(), turnEventOf("s1", 1))
	assert.Error(t, err)
}

func TestNewGormSink_RequiresPool(t *testing.T) {
	_, err := NewGormSink(nil, false)
	assert.Error(t, err)
}

// =============================================================================
// Mongo
// =============================================================================

type fakeCollection struct {
	filters []any
	docs    []any
	err     error
}

func (c *fakeCollection) ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.filters = append(c.filters, filter)
	c.docs = append(c.docs, replacement)
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func TestMongoSink_UpsertsByEventKey(t *testing.T) {
	coll := &fakeCollection{}
	now := time.Date(2026, 1, 2, 16, 0, 0, 0, time.UTC)
	sink := &MongoSink{coll: coll, now: func() time.Time { return now }}
	ctx := context.Background()

	ev := turnEventOf("s1", 1)
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.Write(ctx, sessionEvent("s1")))

	require.Len(t, coll.docs, 2)
	assert.Equal(t, bson.D{{Key: "_id", Value: ev.Key()}}, coll.filters[0])

	turnDoc := coll.docs[0].(eventDocument)
	assert.Equal(t, EventTurnCompleted, turnDoc.Type)
	assert.Equal(t, "s1", turnDoc.SessionID)
	assert.EqualValues(t, 1, turnDoc.Turn)
	assert.Equal(t, "hello", turnDoc.Transcript)
	assert.Equal(t, now, turnDoc.RecordedAt)

	sessDoc := coll.docs[1].(eventDocument)
	assert.Equal(t, "s1:ended", sessDoc.ID)
	assert.Equal(t, "caller_hangup", sessDoc.Reason)
	assert.EqualValues(t, 3, sessDoc.Turns)

	assert.NoError(t, sink.Close(ctx))
}

func TestMongoSink_Errors(t *testing.T) {
	sink := &MongoSink{coll: &fakeCollection{err: errors.New("not primary")}, now: time.Now}
	assert.Error(t, sink.Write(context.Background(), turnEventOf("s1", 1)))
	assert.Error(t, sink.Write(context.Background(), Event{Type: EventSessionEnded}))
}

func TestEventDocument_BSONRoundTrip(t *testing.T) {
	doc, err := toDocument(sessionEvent("s1"), time.Now().UTC())
	require.NoError(t, err)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "s1:ended", m["_id"])
	assert.Equal(t, "caller_hangup", m["reason"])
	assert.NotContains(t, m, "transcript")
}

// =============================================================================
// Factory
// =============================================================================

func TestNewSinkFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	cfg.Persistence.Driver = "none"
	sink, err := NewSinkFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, sink)

	cfg.Persistence.Driver = "memory"
	sink, err = NewSinkFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", sink.Name())

	cfg.Persistence.Driver = "kafka"
	_, err = NewSinkFromConfig(ctx, cfg, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	cfg.Persistence.Driver = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.HealthCheckInterval = 0
	sink, err = NewSinkFromConfig(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "redis", sink.Name())
	assert.NoError(t, sink.Close(ctx))

	cfg.Persistence.Driver = "database"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = "file::memory:"
	cfg.Database.MaxOpenConns = 1
	cfg.Database.HealthCheckInterval = 0
	cfg.Database.AutoMigrate = true
	sink, err = NewSinkFromConfig(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "database", sink.Name())
	require.NoError(t, sink.Write(ctx, turnEventOf("s1", 1)))
	assert.NoError(t, sink.Close(ctx))
}

func TestNewPublisher(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	cfg.Persistence.Driver = "none"
	pub, closeFn, err := NewPublisher(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, pub)
	assert.NoError(t, closeFn(ctx))

	cfg.Persistence.Driver = "memory"
	pub, closeFn, err = NewPublisher(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Dispatcher{}, pub)
	pub.PublishTurn(turnEvent("s1", 1))
	assert.NoError(t, closeFn(ctx))
	assert.EqualValues(t, 1, pub.(*Dispatcher).Stats().Delivered)
}
