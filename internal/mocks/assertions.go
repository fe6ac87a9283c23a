package mocks

import (
	"github.com/fablehouse/fable-api/internal/generation"
	"github.com/fablehouse/fable-api/internal/store"
)

// Compile-time interface checks.
var (
	_ store.JobStore      = (*MemoryJobStore)(nil)
	_ store.CreditStore   = (*MemoryCreditStore)(nil)
	_ store.ArtifactStore = (*MemoryArtifactStore)(nil)
	_ store.BookStore     = (*MemoryBookStore)(nil)

	_ generation.Moderator               = (*StubGenerators)(nil)
	_ generation.StoryGenerator          = (*StubGenerators)(nil)
	_ generation.CharacterSheetGenerator = (*StubGenerators)(nil)
	_ generation.ImagePromptGenerator    = (*StubGenerators)(nil)
	_ generation.ImageGenerator          = (*StubGenerators)(nil)
)
