package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/datht30102002/keygate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type TokenBucket struct {
	redis      *storage.RedisClient
	capacity   int // Total capacity of the bucket
	refillRate int // Tokens per second
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, refillRate int) *TokenBucket {
	return &TokenBucket{
		redis:      redis,
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	var state bucketState

	if err == redis.Nil {
		// First request, start with a full bucket
		state = bucketState{
			Tokens:     float64(t.capacity),
			LastRefill: time.Now(),
		}
	} else if err != nil {
		return false, err
	} else {
		json.Unmarshal([]byte(data), &state)
	}

	// Refill tokens based on time elapsed
	now := time.Now()
	elapsed := now.Sub(state.LastRefill)
	tokensToAdd := elapsed.Seconds() * float64(t.refillRate)
	state.Tokens = math.Min(state.Tokens+tokensToAdd, float64(t.capacity))
	state.LastRefill = now

	allowed := false
	if state.Tokens >= 1 {
		state.Tokens -= 1
		allowed = true
	}

	stateJson, _ := json.Marshal(state)
	t.redis.Set(ctx, redisKey, stateJson, time.Hour)

	return allowed, nil
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return t.capacity, nil
	}
	if err != nil {
		return 0, err
	}

	var state bucketState
	json.Unmarshal([]byte(data), &state)

	now := time.Now()
	elapsed := now.Sub(state.LastRefill)
	tokensToAdd := elapsed.Seconds() * float64(t.refillRate)
	currentTokens := math.Min(state.Tokens+tokensToAdd, float64(t.capacity))

	return int(currentTokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Window() time.Duration {
	// Time to fully refill from empty
	return time.Duration(t.capacity/t.refillRate) * time.Second
}

func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return time.Now(), nil
	}
	if err != nil {
		return time.Time{}, err
	}

	var state bucketState
	json.Unmarshal([]byte(data), &state)

	tokensNeeded := float64(t.capacity) - state.Tokens
	secondsToFull := tokensNeeded / float64(t.refillRate)

	return time.Now().Add(time.Duration(secondsToFull) * time.Second), nil
}
