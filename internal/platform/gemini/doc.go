// Package gemini implements the generation interfaces against Google's
// Gemini API: text models for moderation, story, character sheet and image
// prompts, and the Imagen model for page illustrations. All provider
// errors are mapped onto the pipeline's error code taxonomy before they
// leave this package.
package gemini
