package pipeline

// Step labels persisted on the job row. These are part of the API surface:
// clients poll them to render progress.
const (
	StepWaiting        = "waiting"
	StepModeration     = "moderation"
	StepPreparing      = "preparing"
	StepStory          = "story"
	StepCharacterSheet = "character_sheet"
	StepImagePrompts   = "image_prompts"
	StepImages         = "images"
	StepSafetyScan     = "safety_scan"
	StepPackaging      = "packaging"
	StepRetrying       = "retrying"
)

// Progress checkpoints per stage. Image generation interpolates between
// progressImages and progressImagesDone as slots finish.
const (
	progressPreparing      = 5
	progressModeration     = 10
	progressStory          = 30
	progressCharacterSheet = 40
	progressImagePrompts   = 55
	progressImages         = 55
	progressImagesDone     = 95
	progressSafetyScan     = 95
	progressPackaging      = 98
)
