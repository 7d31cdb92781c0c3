package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror_NilIsAlwaysMiss(t *testing.T) {
	var m *Mirror
	assert.Nil(t, NewMirror(nil, time.Minute))

	m.Set(context.Background(), "k", "x")
	_, ok := m.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestMirror_SetGetWithTTL(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	m := NewMirror(rdb, time.Hour)
	k := KeyFor("http://example.com/my.pdf")

	_, ok := m.Get(context.Background(), k)
	assert.False(t, ok)

	m.Set(context.Background(), k, "<html></html>")
	html, ok := m.Get(context.Background(), k)
	assert.True(t, ok)
	assert.Equal(t, "<html></html>", html)
	assert.Equal(t, time.Hour, mrs.TTL(mirrorPrefix+k.String()))
}

func TestMirror_DefaultTTL(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()

	m := NewMirror(redis.NewClient(&redis.Options{Addr: mrs.Addr()}), 0)
	m.Set(context.Background(), "k", "v")
	assert.Equal(t, time.Minute, mrs.TTL(mirrorPrefix+"k"))
}

func TestMirror_RedisDownIsMiss(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	m := NewMirror(redis.NewClient(&redis.Options{Addr: mrs.Addr()}), time.Minute)
	mrs.Close()

	m.Set(context.Background(), "k", "v")
	_, ok := m.Get(context.Background(), "k")
	assert.False(t, ok)
}
