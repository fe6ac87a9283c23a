package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for book artifacts
var (
	ErrEmptyTopic       = errors.New("book topic cannot be empty")
	ErrInvalidPageCount = errors.New("page count must be between 4 and 12")
	ErrEmptyStoryTitle  = errors.New("story title cannot be empty")
	ErrNoStoryPages     = errors.New("story draft must contain pages")
	ErrNoImagePrompts   = errors.New("image prompt set must contain page prompts")
)

// BookSpec is the normalized user request driving one generation job.
type BookSpec struct {
	Topic             string   `json:"topic"`
	Language          string   `json:"language"`
	TargetAge         string   `json:"target_age"`
	Style             string   `json:"style"`
	PageCount         int      `json:"page_count"`
	Theme             string   `json:"theme,omitempty"`
	CharacterName     string   `json:"character_name,omitempty"`
	ForbiddenElements []string `json:"forbidden_elements,omitempty"`
}

// Normalize applies defaults and trims free-text fields. It returns an error
// for input no later stage could work with.
func (s BookSpec) Normalize() (BookSpec, error) {
	s.Topic = strings.TrimSpace(s.Topic)
	if s.Topic == "" {
		return s, ErrEmptyTopic
	}

	if s.Language == "" {
		s.Language = "en"
	}
	if s.Style == "" {
		s.Style = "watercolor"
	}
	if s.PageCount == 0 {
		s.PageCount = 8
	}
	if s.PageCount < 4 || s.PageCount > 12 {
		return s, ErrInvalidPageCount
	}

	return s, nil
}

// ModerationResult is the verdict of a content safety check.
type ModerationResult struct {
	IsSafe      bool     `json:"is_safe"`
	Reasons     []string `json:"reasons,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// StoryPage is one page of a generated story draft.
type StoryPage struct {
	Page  int    `json:"page"`
	Text  string `json:"text"`
	Scene string `json:"scene"`
	Mood  string `json:"mood,omitempty"`
}

// StoryDraft is the stage-C artifact: the full story before illustration.
type StoryDraft struct {
	Title     string      `json:"title"`
	Language  string      `json:"language"`
	TargetAge string      `json:"target_age"`
	Theme     string      `json:"theme,omitempty"`
	Moral     string      `json:"moral,omitempty"`
	Pages     []StoryPage `json:"pages"`
}

// Validate checks if the StoryDraft has valid data.
func (d *StoryDraft) Validate() error {
	if d.Title == "" {
		return ErrEmptyStoryTitle
	}
	if len(d.Pages) == 0 {
		return ErrNoStoryPages
	}
	return nil
}

// CharacterSheet is the stage-D artifact: a persistent visual description
// of the protagonist used to keep illustrations consistent across pages.
type CharacterSheet struct {
	CharacterID       string   `json:"character_id"`
	Name              string   `json:"name"`
	MasterDescription string   `json:"master_description"`
	PersonalityTraits []string `json:"personality_traits,omitempty"`
	VisualStyleNotes  string   `json:"visual_style_notes,omitempty"`
}

// ImagePrompt is one rendering instruction. Slot 0 is the cover.
type ImagePrompt struct {
	Page           int    `json:"page"`
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
}

// ImagePrompts is the stage-E artifact: one prompt per image slot.
type ImagePrompts struct {
	Style string        `json:"style"`
	Cover ImagePrompt   `json:"cover"`
	Pages []ImagePrompt `json:"pages"`
}

// Validate checks if the ImagePrompts set has valid data.
func (p *ImagePrompts) Validate() error {
	if len(p.Pages) == 0 {
		return ErrNoImagePrompts
	}
	return nil
}

// TotalSlots returns the number of image slots including the cover.
func (p *ImagePrompts) TotalSlots() int {
	return len(p.Pages) + 1
}

// Page is one finished page of a packaged book.
type Page struct {
	PageNumber  int    `json:"page_number"`
	Text        string `json:"text"`
	ImageURL    string `json:"image_url"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

// Book is the stage-H output: the persisted, user-visible result of a job.
type Book struct {
	ID            string    `json:"id"`
	JobID         uuid.UUID `json:"job_id"`
	Title         string    `json:"title"`
	Language      string    `json:"language"`
	TargetAge     string    `json:"target_age"`
	Style         string    `json:"style"`
	Theme         string    `json:"theme,omitempty"`
	CoverImageURL string    `json:"cover_image_url"`
	UserKey       string    `json:"user_key"`
	Pages         []Page    `json:"pages"`
	CreatedAt     time.Time `json:"created_at"`
}
