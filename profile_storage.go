package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go-passport-emulator/mrz"

	"github.com/redis/go-redis/v9"
)

// Should be safe to use in concurrency
type ProfileStorage interface {
	// Store the profile for the given profileId.
	// Should not return an error when the value already exists,
	// it should just update in that case.
	StoreProfile(profileId string, profile mrz.DocumentProfile) error

	// Should retrieve the profile for the given profileId
	// and return an error in any case where it fails to do so.
	RetrieveProfile(profileId string) (mrz.DocumentProfile, error)

	// Should remove the profile and return an error if it fails to do so.
	// The value not being there should also be considered an error.
	RemoveProfile(profileId string) error
}

// ------------------------------------------------------------------------------

type InMemoryProfileStorage struct {
	ProfileMap map[string]mrz.DocumentProfile
	mutex      sync.Mutex
}

func NewInMemoryProfileStorage() *InMemoryProfileStorage {
	return &InMemoryProfileStorage{
		ProfileMap: make(map[string]mrz.DocumentProfile),
	}
}

func (s *InMemoryProfileStorage) StoreProfile(profileId string, profile mrz.DocumentProfile) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ProfileMap[profileId] = profile
	return nil
}

func (s *InMemoryProfileStorage) RetrieveProfile(profileId string) (mrz.DocumentProfile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if profile, ok := s.ProfileMap[profileId]; ok {
		return profile, nil
	}
	return mrz.DocumentProfile{}, fmt.Errorf("failed to find profile for %s", profileId)
}

func (s *InMemoryProfileStorage) RemoveProfile(profileId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.ProfileMap[profileId]; ok {
		delete(s.ProfileMap, profileId)
		return nil
	}
	return fmt.Errorf("failed to remove profile for %s, because it wasn't there", profileId)
}

// ------------------------------------------------------------------------------

type RedisProfileStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisProfileStorage(client *redis.Client, namespace string) *RedisProfileStorage {
	return &RedisProfileStorage{client: client, namespace: namespace}
}

func createKey(namespace, profileId string) string {
	return fmt.Sprintf("%s:profile:%s", namespace, profileId)
}

const Timeout time.Duration = 24 * time.Hour

func (s *RedisProfileStorage) StoreProfile(profileId string, profile mrz.DocumentProfile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to serialize profile for %s: %w", profileId, err)
	}

	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, profileId), payload, Timeout).Err()
}

func (s *RedisProfileStorage) RetrieveProfile(profileId string) (mrz.DocumentProfile, error) {
	ctx := context.Background()
	payload, err := s.client.Get(ctx, createKey(s.namespace, profileId)).Result()
	if err != nil {
		return mrz.DocumentProfile{}, err
	}

	var profile mrz.DocumentProfile
	if err := json.Unmarshal([]byte(payload), &profile); err != nil {
		return mrz.DocumentProfile{}, fmt.Errorf("failed to deserialize profile for %s: %w", profileId, err)
	}
	return profile, nil
}

func (s *RedisProfileStorage) RemoveProfile(profileId string) error {
	ctx := context.Background()
	return s.client.Del(ctx, createKey(s.namespace, profileId)).Err()
}
