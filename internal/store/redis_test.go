package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	kv, err := NewRedis("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return kv, s
}

func TestNewRedis(t *testing.T) {
	kv, _ := setupTestRedis(t)
	defer kv.Close()

	if err := kv.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisBadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRedisKV(t *testing.T) {
	kv, _ := setupTestRedis(t)
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestRedisKeyPrefixAndNoExpiry(t *testing.T) {
	kv, s := setupTestRedis(t)
	defer kv.Close()

	if err := kv.Set(context.Background(), "user", []byte(`{"id":"7"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !s.Exists("labportal:user") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := s.TTL("labportal:user"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
}

func TestRedisUnavailable(t *testing.T) {
	kv, s := setupTestRedis(t)
	defer kv.Close()
	s.Close()

	if _, _, err := kv.Get(context.Background(), "user"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
