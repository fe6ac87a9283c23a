package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// MemoryArtifactStore implements store.ArtifactStore in memory.
type MemoryArtifactStore struct {
	mu      sync.Mutex
	drafts  map[uuid.UUID]*domain.StoryDraft
	sheets  map[uuid.UUID]*domain.CharacterSheet
	prompts map[uuid.UUID]*domain.ImagePrompts
}

// NewMemoryArtifactStore creates an empty MemoryArtifactStore.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		drafts:  make(map[uuid.UUID]*domain.StoryDraft),
		sheets:  make(map[uuid.UUID]*domain.CharacterSheet),
		prompts: make(map[uuid.UUID]*domain.ImagePrompts),
	}
}

// SaveStoryDraft implements store.ArtifactStore.
func (s *MemoryArtifactStore) SaveStoryDraft(_ context.Context, jobID uuid.UUID, draft *domain.StoryDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *draft
	s.drafts[jobID] = &cp
	return nil
}

// GetStoryDraft implements store.ArtifactStore.
func (s *MemoryArtifactStore) GetStoryDraft(_ context.Context, jobID uuid.UUID) (*domain.StoryDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[jobID]
	if !ok {
		return nil, store.ErrArtifactNotFound
	}
	cp := *draft
	return &cp, nil
}

// SaveCharacterSheet implements store.ArtifactStore.
func (s *MemoryArtifactStore) SaveCharacterSheet(_ context.Context, jobID uuid.UUID, sheet *domain.CharacterSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sheet
	s.sheets[jobID] = &cp
	return nil
}

// GetCharacterSheet implements store.ArtifactStore.
func (s *MemoryArtifactStore) GetCharacterSheet(_ context.Context, jobID uuid.UUID) (*domain.CharacterSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[jobID]
	if !ok {
		return nil, store.ErrArtifactNotFound
	}
	cp := *sheet
	return &cp, nil
}

// SaveImagePrompts implements store.ArtifactStore.
func (s *MemoryArtifactStore) SaveImagePrompts(_ context.Context, jobID uuid.UUID, prompts *domain.ImagePrompts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *prompts
	s.prompts[jobID] = &cp
	return nil
}

// GetImagePrompts implements store.ArtifactStore.
func (s *MemoryArtifactStore) GetImagePrompts(_ context.Context, jobID uuid.UUID) (*domain.ImagePrompts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompts, ok := s.prompts[jobID]
	if !ok {
		return nil, store.ErrArtifactNotFound
	}
	cp := *prompts
	return &cp, nil
}
