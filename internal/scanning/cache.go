package scanning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const cacheBucketName = "ocr_results"

// Cache stores OCR results keyed by image content hash in a BoltDB file
type Cache struct {
	db *bbolt.DB
}

// cacheEntry is the stored form of a RawOCRResult
type cacheEntry struct {
	Result     RawOCRResult `json:"result"`
	DetectedAt time.Time    `json:"detected_at"`
}

// OpenCache opens (or creates) the cache file at path
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get returns the cached result for key, or nil when there is none
func (c *Cache) Get(key string) (*RawOCRResult, error) {
	var entry *cacheEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cacheBucketName)).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	return &entry.Result, nil
}

// Put stores result under key
func (c *Cache) Put(key string, result *RawOCRResult) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cacheEntry{Result: *result, DetectedAt: time.Now()})
		if err != nil {
			return fmt.Errorf("marshaling cache entry: %w", err)
		}
		return tx.Bucket([]byte(cacheBucketName)).Put([]byte(key), data)
	})
}

// Len returns the number of cached results
func (c *Cache) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(cacheBucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database file
func (c *Cache) Close() error {
	return c.db.Close()
}

// CachedDetector answers repeated uploads of the same image from the cache.
// Only successful detections are stored.
type CachedDetector struct {
	next  TextDetector
	cache *Cache
}

// NewCachedDetector wraps next with cache
func NewCachedDetector(next TextDetector, cache *Cache) *CachedDetector {
	return &CachedDetector{
		next:  next,
		cache: cache,
	}
}

// DetectText looks the image up by content hash before calling the provider
func (c *CachedDetector) DetectText(ctx context.Context, imageData []byte) (*RawOCRResult, error) {
	sum := sha256.Sum256(imageData)
	key := hex.EncodeToString(sum[:])

	cached, err := c.cache.Get(key)
	if err != nil {
		slog.Warn("OCR cache lookup failed", "key", key, "error", err)
	}
	if cached != nil {
		slog.Debug("OCR cache hit", "key", key)
		return cached, nil
	}

	result, err := c.next.DetectText(ctx, imageData)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(key, result); err != nil {
		slog.Warn("Failed to store OCR result in cache", "key", key, "error", err)
	}
	return result, nil
}

// Close closes the wrapped detector and the cache
func (c *CachedDetector) Close() error {
	err := c.next.Close()
	if cerr := c.cache.Close(); err == nil {
		err = cerr
	}
	return err
}
