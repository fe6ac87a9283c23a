package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookSpec_Normalize(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()
		spec, err := BookSpec{Topic: "  a brave snail  "}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, "a brave snail", spec.Topic)
		assert.Equal(t, "en", spec.Language)
		assert.Equal(t, "watercolor", spec.Style)
		assert.Equal(t, 8, spec.PageCount)
	})

	t.Run("rejects empty topic", func(t *testing.T) {
		t.Parallel()
		_, err := BookSpec{Topic: "   "}.Normalize()
		assert.ErrorIs(t, err, ErrEmptyTopic)
	})

	t.Run("rejects out of range page counts", func(t *testing.T) {
		t.Parallel()
		_, err := BookSpec{Topic: "x", PageCount: 3}.Normalize()
		assert.ErrorIs(t, err, ErrInvalidPageCount)
		_, err = BookSpec{Topic: "x", PageCount: 13}.Normalize()
		assert.ErrorIs(t, err, ErrInvalidPageCount)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		t.Parallel()
		spec, err := BookSpec{Topic: "x", Language: "de", Style: "crayon", PageCount: 12}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, "de", spec.Language)
		assert.Equal(t, "crayon", spec.Style)
		assert.Equal(t, 12, spec.PageCount)
	})
}

func TestStoryDraft_Validate(t *testing.T) {
	t.Parallel()

	draft := &StoryDraft{Title: "T", Pages: []StoryPage{{Page: 1, Text: "x"}}}
	assert.NoError(t, draft.Validate())

	assert.ErrorIs(t, (&StoryDraft{Pages: draft.Pages}).Validate(), ErrEmptyStoryTitle)
	assert.ErrorIs(t, (&StoryDraft{Title: "T"}).Validate(), ErrNoStoryPages)
}

func TestImagePrompts_TotalSlots(t *testing.T) {
	t.Parallel()

	prompts := &ImagePrompts{
		Cover: ImagePrompt{Page: 0},
		Pages: []ImagePrompt{{Page: 1}, {Page: 2}, {Page: 3}},
	}
	assert.Equal(t, 4, prompts.TotalSlots())
	assert.NoError(t, prompts.Validate())

	assert.ErrorIs(t, (&ImagePrompts{}).Validate(), ErrNoImagePrompts)
}
