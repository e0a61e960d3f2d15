package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/educonnect/videocall/internal/models"
)

const registryKeyPrefix = "educall:meeting:"

// Registry maps bootstrap meeting ids to created meetings.
type Registry interface {
	Get(ctx context.Context, meetingID string) (*models.MeetingDescriptor, bool, error)
	// PutIfAbsent stores desc unless the id is already taken, and returns the stored descriptor.
	PutIfAbsent(ctx context.Context, meetingID string, desc models.MeetingDescriptor) (*models.MeetingDescriptor, error)
	Forget(ctx context.Context, meetingID string) error
}

type memoryEntry struct {
	desc    models.MeetingDescriptor
	expires time.Time
}

// MemoryRegistry keeps meetings in process memory.
type MemoryRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryRegistry creates a registry whose entries expire after ttl (never when ttl is 0).
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (r *MemoryRegistry) Get(ctx context.Context, meetingID string) (*models.MeetingDescriptor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.lookup(meetingID)
	if !ok {
		return nil, false, nil
	}
	desc := e.desc
	return &desc, true, nil
}

func (r *MemoryRegistry) lookup(meetingID string) (memoryEntry, bool) {
	e, ok := r.entries[meetingID]
	if ok && !e.expires.IsZero() && !r.now().Before(e.expires) {
		delete(r.entries, meetingID)
		return memoryEntry{}, false
	}
	return e, ok
}

func (r *MemoryRegistry) PutIfAbsent(ctx context.Context, meetingID string, desc models.MeetingDescriptor) (*models.MeetingDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.lookup(meetingID); ok {
		existing := e.desc
		return &existing, nil
	}
	e := memoryEntry{desc: desc}
	if r.ttl > 0 {
		e.expires = r.now().Add(r.ttl)
	}
	r.entries[meetingID] = e
	return &desc, nil
}

func (r *MemoryRegistry) Forget(ctx context.Context, meetingID string) error {
	r.mu.Lock()
	delete(r.entries, meetingID)
	r.mu.Unlock()
	return nil
}

// RedisRegistry shares meetings between server instances.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry stores meetings under keys that expire after ttl (never when ttl is 0).
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Get(ctx context.Context, meetingID string) (*models.MeetingDescriptor, bool, error) {
	raw, err := r.client.Get(ctx, registryKeyPrefix+meetingID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("registry get: %w", err)
	}
	var desc models.MeetingDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, false, fmt.Errorf("registry decode: %w", err)
	}
	return &desc, true, nil
}

func (r *RedisRegistry) PutIfAbsent(ctx context.Context, meetingID string, desc models.MeetingDescriptor) (*models.MeetingDescriptor, error) {
	body, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	ok, err := r.client.SetNX(ctx, registryKeyPrefix+meetingID, body, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("registry put: %w", err)
	}
	if ok {
		return &desc, nil
	}
	existing, found, err := r.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !found {
		// expired between SetNX and Get
		return r.PutIfAbsent(ctx, meetingID, desc)
	}
	return existing, nil
}

func (r *RedisRegistry) Forget(ctx context.Context, meetingID string) error {
	return r.client.Del(ctx, registryKeyPrefix+meetingID).Err()
}
