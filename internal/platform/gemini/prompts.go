package gemini

import (
	"fmt"
	"strings"

	"github.com/fablehouse/fable-api/internal/domain"
)

// Prompt builders for the text stages. Every prompt demands strict JSON so
// the response can be unmarshalled straight into domain types.

func moderationPrompt(spec domain.BookSpec) string {
	var b strings.Builder
	b.WriteString("You are a content safety reviewer for a children's book service.\n")
	b.WriteString("Review the following book request for suitability for young children.\n")
	b.WriteString("Reject violence, gore, sexual content, drugs, self-harm, hate and anything frightening for small children.\n\n")
	writeSpec(&b, spec)
	b.WriteString("\nRespond with strict JSON only, no markdown fences, matching:\n")
	b.WriteString(`{"is_safe": bool, "reasons": [string], "suggestions": [string]}`)
	return b.String()
}

func storyPrompt(spec domain.BookSpec) string {
	var b strings.Builder
	b.WriteString("You are an award-winning children's book author.\n")
	fmt.Fprintf(&b, "Write a %d-page story in language %q for age group %q.\n",
		spec.PageCount, spec.Language, spec.TargetAge)
	b.WriteString("Each page gets two to four short sentences and a visual scene description.\n\n")
	writeSpec(&b, spec)
	b.WriteString("\nRespond with strict JSON only, no markdown fences, matching:\n")
	b.WriteString(`{"title": string, "language": string, "target_age": string, "theme": string, "moral": string, ` +
		`"pages": [{"page": int, "text": string, "scene": string, "mood": string}]}`)
	return b.String()
}

func characterSheetPrompt(spec domain.BookSpec, draft *domain.StoryDraft) string {
	var b strings.Builder
	b.WriteString("You are a character designer for illustrated children's books.\n")
	b.WriteString("Create one reusable visual description of the story's protagonist.\n")
	b.WriteString("The master description must stay identical across every illustration.\n\n")
	fmt.Fprintf(&b, "Story title: %s\n", draft.Title)
	for _, p := range draft.Pages {
		fmt.Fprintf(&b, "Page %d: %s\n", p.Page, p.Text)
	}
	if spec.CharacterName != "" {
		fmt.Fprintf(&b, "\nThe protagonist is named %q.\n", spec.CharacterName)
	}
	fmt.Fprintf(&b, "Illustration style: %s.\n", spec.Style)
	b.WriteString("\nRespond with strict JSON only, no markdown fences, matching:\n")
	b.WriteString(`{"character_id": string, "name": string, "master_description": string, ` +
		`"personality_traits": [string], "visual_style_notes": string}`)
	return b.String()
}

func imagePromptsPrompt(spec domain.BookSpec, draft *domain.StoryDraft, sheet *domain.CharacterSheet) string {
	var b strings.Builder
	b.WriteString("You are an art director preparing rendering prompts for a children's book.\n")
	fmt.Fprintf(&b, "Produce one cover prompt plus exactly %d page prompts.\n", len(draft.Pages))
	b.WriteString("Every prompt must embed the character master description verbatim so the protagonist looks the same on every page.\n\n")
	fmt.Fprintf(&b, "Character master description: %s\n", sheet.MasterDescription)
	fmt.Fprintf(&b, "Illustration style: %s\n", spec.Style)
	fmt.Fprintf(&b, "Story title: %s\n", draft.Title)
	for _, p := range draft.Pages {
		fmt.Fprintf(&b, "Page %d scene: %s\n", p.Page, p.Scene)
	}
	b.WriteString("\nRespond with strict JSON only, no markdown fences, matching:\n")
	b.WriteString(`{"style": string, "cover": {"page": 0, "positive_prompt": string, "negative_prompt": string, "aspect_ratio": string}, ` +
		`"pages": [{"page": int, "positive_prompt": string, "negative_prompt": string, "aspect_ratio": string}]}`)
	return b.String()
}

func writeSpec(b *strings.Builder, spec domain.BookSpec) {
	fmt.Fprintf(b, "Topic: %s\n", spec.Topic)
	fmt.Fprintf(b, "Language: %s\n", spec.Language)
	fmt.Fprintf(b, "Target age: %s\n", spec.TargetAge)
	fmt.Fprintf(b, "Style: %s\n", spec.Style)
	if spec.Theme != "" {
		fmt.Fprintf(b, "Theme: %s\n", spec.Theme)
	}
	if spec.CharacterName != "" {
		fmt.Fprintf(b, "Protagonist name: %s\n", spec.CharacterName)
	}
	if len(spec.ForbiddenElements) > 0 {
		fmt.Fprintf(b, "Must not contain: %s\n", strings.Join(spec.ForbiddenElements, ", "))
	}
}
