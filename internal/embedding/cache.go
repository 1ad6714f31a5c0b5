package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ragstack/ragstack/internal/log"
)

// cacheTTL bounds staleness after a model change reuses the same name.
const cacheTTL = 24 * time.Hour

// cache is a read-through Redis cache in front of an Embedder. Keys are
// sha256(provider|model|text) so the same text embedded under a different
// provider or model never collides. Redis failures degrade to direct
// provider calls.
type cache struct {
	inner  Embedder
	client *redis.Client
	model  string
	logger log.Logger
}

func newCache(redisURL string, inner Embedder, model string, logger log.Logger) (*cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return &cache{
		inner:  inner,
		client: redis.NewClient(opts),
		model:  model,
		logger: logger,
	}, nil
}

func (c *cache) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		cached = make([]interface{}, len(keys))
	}
	for i := range texts {
		raw, ok := cached[i].(string)
		if ok {
			vec, err := decodeVector([]byte(raw))
			if err == nil {
				out[i] = vec
				continue
			}
			c.logger.Warn("embedding cache entry corrupt", "key", keys[i], "error", err)
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	for i, vec := range vectors {
		out[missIdx[i]] = vec
		pipe.Set(ctx, keys[missIdx[i]], encodeVector(vec), cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache write failed", "error", err)
	}

	return out, nil
}

func (c *cache) Dimension() int { return c.inner.Dimension() }

func (c *cache) Provider() string { return c.inner.Provider() }

// Close releases the Redis connection.
func (c *cache) Close() error { return c.client.Close() }

func (c *cache) key(text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.Provider()))
	h.Write([]byte{'|'})
	h.Write([]byte(c.model))
	h.Write([]byte{'|'})
	h.Write([]byte(text))
	return "emb:" + hex.EncodeToString(h.Sum(nil))
}

// encodeVector packs a vector as little-endian float32 bits. Roughly 10x
// smaller than JSON for typical 1536-dim vectors.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
