package cache

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := New()

	c.Set("run:last", []byte(`{"run_id":"r1"}`), 0)
	got, ok := c.Get("run:last")

	assert.True(t, ok)
	assert.Equal(t, []byte(`{"run_id":"r1"}`), got)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := New()

	c.Set("k", []byte("v"), time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := New()

	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestRedisCache_SetGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectSet("score:p1", []byte(`{"total_score":88}`), time.Minute).SetVal("OK")
	c.Set("score:p1", []byte(`{"total_score":88}`), time.Minute)

	mock.ExpectGet("score:p1").SetVal(`{"total_score":88}`)
	got, ok := c.Get("score:p1")

	assert.True(t, ok)
	assert.Equal(t, []byte(`{"total_score":88}`), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_MissIsNotFound(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectGet("absent").RedisNil()
	_, ok := c.Get("absent")

	assert.False(t, ok)
}
