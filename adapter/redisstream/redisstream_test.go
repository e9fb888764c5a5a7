package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xcorr"
)

func testAddr() string {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		return v
	}
	return "127.0.0.1:6379"
}

// redisClient returns a connected Redis client or skips the test.
func redisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     testAddr(),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

// testBroker returns a broker on a dedicated connection plus unique stream names.
func testBroker(t *testing.T) (*Broker, string, string) {
	client := redisClient(t)
	b := NewWithClient(client, Defaults())

	suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
	req, res := "xcorr-test-req-"+suffix, "xcorr-test-res-"+suffix
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Del(ctx, req, res).Err()
		_ = client.Close()
	})
	return b, req, res
}

func TestConfigFromMap(t *testing.T) {
	c := ConfigFromMap(map[string]any{
		"url":            "redis://:secret@cache:6380/2",
		"pool_size":      8,
		"max_len_approx": 1000,
		"dial_timeout":   time.Second,
	})
	assert.Equal(t, "redis://:secret@cache:6380/2", c.URL)
	assert.Equal(t, 8, c.PoolSize)
	assert.Equal(t, int64(1000), c.MaxLenApprox)
	assert.Equal(t, time.Second, c.DialTimeout)
	assert.Equal(t, Defaults().Addr, c.Addr)
	require.NoError(t, c.Validate())

	opts, err := c.redisOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 8, opts.PoolSize)

	back := ConfigFromMap(c.toMap())
	assert.Equal(t, c, back)
}

func TestConfigValidate(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())

	c.Addr = ""
	assert.Error(t, c.Validate())

	c = Defaults()
	c.URL = "http://not-redis"
	assert.Error(t, c.Validate())

	c = Defaults()
	c.PoolSize = 0
	assert.Error(t, c.Validate())

	c = Defaults()
	c.MinIdleConns = c.PoolSize + 1
	assert.Error(t, c.Validate())
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(redis.ErrClosed), xcorr.ErrBrokerClosed)
	assert.ErrorIs(t, mapErr(errors.New("NOGROUP No such key 'x' or consumer group 'g' in XREADGROUP with GROUP option")), xcorr.ErrNoGroup)

	other := errors.New("ERR something else")
	assert.Equal(t, other, mapErr(other))
	assert.True(t, isNoSuchKey(errors.New("ERR no such key")))
	assert.False(t, isNoSuchKey(nil))
}

func TestStringFields(t *testing.T) {
	got := stringFields(map[string]any{"a": "x", "b": []byte("y"), "c": 7})
	assert.Equal(t, map[string]string{"a": "x", "b": "y", "c": "7"}, got)
}

func TestBroker_RegisteredByName(t *testing.T) {
	assert.Contains(t, xcorr.Brokers(), BrokerName)
}

func TestBroker_EnsureStreamAndGroupIdempotent(t *testing.T) {
	b, _, res := testBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := b.EnsureStream(ctx, res)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.EnsureStream(ctx, res)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = b.EnsureGroup(ctx, res, "g", xcorr.GroupStart)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.EnsureGroup(ctx, res, "g", xcorr.GroupStart)
	require.NoError(t, err)
	assert.False(t, created)

	groups, err := b.Groups(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, groups)
}

func TestBroker_ReadAckPending(t *testing.T) {
	b, _, res := testBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := b.EnsureGroup(ctx, res, "g", xcorr.GroupStart)
	require.NoError(t, err)

	id1, err := b.Append(ctx, res, map[string]string{"correlation_id": "a", "status": "success"})
	require.NoError(t, err)
	id2, err := b.Append(ctx, res, map[string]string{"correlation_id": "b", "status": "success"})
	require.NoError(t, err)

	entries, err := b.ReadGroup(ctx, res, "g", "c1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id1, entries[0].ID)
	assert.Equal(t, "a", entries[0].Fields["correlation_id"])

	// delivered entries are not handed to another member
	again, err := b.ReadGroup(ctx, res, "g", "c2", 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := b.PendingCount(ctx, res, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := b.PendingRange(ctx, res, "g", "-", "+", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, id1, page[0].ID)
	assert.Equal(t, "c1", page[0].Consumer)

	page, err = b.PendingRange(ctx, res, "g", "("+id1, "+", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, id2, page[0].ID)

	acked, err := b.Ack(ctx, res, "g", id1, id2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acked)

	n, err = b.PendingCount(ctx, res, "g")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, b.DeleteConsumer(ctx, res, "g", "c1"))
	st := b.Stats()
	assert.Equal(t, uint64(2), st.Appended)
	assert.Equal(t, uint64(2), st.Acked)
}

func TestBroker_ReadGroupMissingGroup(t *testing.T) {
	b, _, res := testBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := b.EnsureStream(ctx, res)
	require.NoError(t, err)

	_, err = b.ReadGroup(ctx, res, "missing", "c", 1, 10*time.Millisecond)
	assert.ErrorIs(t, err, xcorr.ErrNoGroup)
}

func TestBroker_ClosedIsFatal(t *testing.T) {
	b, _, res := testBroker(t)
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))

	_, err := b.Append(context.Background(), res, map[string]string{"k": "v"})
	assert.ErrorIs(t, err, xcorr.ErrBrokerClosed)
	assert.True(t, xcorr.IsFatal(err))
}

// TestClient_EndToEnd runs the chatbot side and a responder against Redis.
func TestClient_EndToEnd(t *testing.T) {
	b, req, res := testBroker(t)

	opts := xcorr.DefaultOptions()
	opts.RequestStream, opts.ResultStream = req, res
	opts.Group = "chatbot-consumers"
	opts.ReadBlock = 200 * time.Millisecond
	opts.ReclaimInterval = 0

	client, err := xcorr.NewClientBuilder().
		WithBrokerInstance(b).
		WithOptions(opts).
		Build()
	require.NoError(t, err)
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Open(ctx))

	responder := client.NewResponder(xcorr.ResponderConfig{Group: "spring-consumers", Block: 200 * time.Millisecond})
	responder.Handle(xcorr.TodayReservations, func(ctx context.Context, r *xcorr.RequestEnvelope) (any, error) {
		return map[string]any{"shop_id": r.ShopID, "count": 3}, nil
	})

	rctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = responder.Run(rctx)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	const waiters = 5
	var (
		mu      sync.Mutex
		matched int
	)
	var cwg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			id, err := client.Publish(ctx, xcorr.TodayReservations, 7, nil)
			if !assert.NoError(t, err) {
				return
			}
			r, err := client.Wait(ctx, id, 5*time.Second)
			if err != nil {
				assert.ErrorIs(t, err, xcorr.ErrResultNotFound)
				return
			}
			assert.Equal(t, id, r.CorrelationID)
			mu.Lock()
			matched++
			mu.Unlock()
		}()
	}
	cwg.Wait()
	m := client.GetMetrics()
	assert.Equal(t, uint64(matched), m.Matched)
	assert.Equal(t, uint64(waiters), m.Matched+m.Timeouts)

	n, err := b.PendingCount(ctx, res, opts.Group)
	require.NoError(t, err)
	assert.Zero(t, n)
}
