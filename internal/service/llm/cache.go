package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	domainllm "codeloom/internal/domain/services/llm"
)

// Fingerprint computes the deterministic cache key for a fully-prepared
// provider request: provider name plus serialized wire payload. Any
// field that reaches the wire (model, temperature, message content)
// participates.
func Fingerprint(prep *domainllm.PreparedRequest) string {
	h := sha256.New()
	h.Write([]byte(prep.Provider))
	h.Write([]byte{0})
	h.Write(prep.Body)
	return hex.EncodeToString(h.Sum(nil))
}

// cacheEntry is the on-disk record for one cached response.
type cacheEntry struct {
	Response  *domainllm.Response `json:"response"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ResponseCache is the process-wide request cache, keyed by
// fingerprint. Entries are JSON files under a cache directory so
// identical prompts hit across conversations and restarts.
type ResponseCache struct {
	dir    string
	maxAge time.Duration
	mu     sync.RWMutex
}

// NewResponseCache creates the cache directory if needed.
func NewResponseCache(dir string, maxAge time.Duration) (*ResponseCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &ResponseCache{dir: dir, maxAge: maxAge}, nil
}

// Get returns the cached response for a fingerprint, or nil on a miss.
// Expired entries are removed on read.
func (c *ResponseCache) Get(fingerprint string) *domainllm.Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := filepath.Join(c.dir, fingerprint+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		os.Remove(path)
		return nil
	}
	if time.Now().After(entry.ExpiresAt) {
		os.Remove(path)
		return nil
	}
	return entry.Response
}

// Put stores a fresh response keyed by fingerprint.
func (c *ResponseCache) Put(fingerprint string, resp *domainllm.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{
		Response:  resp,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(c.maxAge),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	path := filepath.Join(c.dir, fingerprint+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}
