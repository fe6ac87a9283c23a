package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/fablehouse/fable-api/internal/config"
	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/generation"
	"github.com/fablehouse/fable-api/internal/storage"
)

const defaultAspectRatio = "1:1"

// ImageGenerator implements generation.ImageGenerator on the Imagen model.
// Rendered bytes go straight into the object store; callers only ever see
// the public URL.
type ImageGenerator struct {
	logger  *slog.Logger
	client  *genai.Client
	model   string
	objects storage.ObjectStore
}

// NewImageGenerator creates an ImageGenerator from the image configuration.
func NewImageGenerator(ctx context.Context, logger *slog.Logger, cfg config.ImageConfig, apiKey string, objects storage.ObjectStore) (*ImageGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: image model name cannot be empty", generation.ErrInvalidConfig)
	}
	if objects == nil {
		return nil, fmt.Errorf("%w: object store cannot be nil", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &ImageGenerator{
		logger:  logger.With(slog.String("component", "gemini_image")),
		client:  client,
		model:   cfg.ModelName,
		objects: objects,
	}, nil
}

// GenerateImage renders one slot and stores the result, returning its
// public URL. Single-attempt; the fan-out owns retries.
func (g *ImageGenerator) GenerateImage(ctx context.Context, jobID uuid.UUID, prompt domain.ImagePrompt) (string, error) {
	op := fmt.Sprintf("image generation for slot %d", prompt.Page)

	aspect := prompt.AspectRatio
	if aspect == "" {
		aspect = defaultAspectRatio
	}

	g.logger.DebugContext(ctx, "calling imagen",
		slog.String("model", g.model),
		slog.Int("slot", prompt.Page))

	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt.PositivePrompt,
		&genai.GenerateImagesConfig{
			NumberOfImages: 1,
			AspectRatio:    aspect,
			NegativePrompt: prompt.NegativePrompt,
			OutputMIMEType: "image/png",
		})
	if err != nil {
		return "", mapAPIError(op, err)
	}

	if resp == nil || len(resp.GeneratedImages) == 0 {
		// Imagen drops images it filters out rather than erroring.
		return "", blockedError(op)
	}

	img := resp.GeneratedImages[0].Image
	if img == nil || len(img.ImageBytes) == 0 {
		return "", invalidResponseError(op, errors.New("empty image payload"))
	}

	key := fmt.Sprintf("jobs/%s/slot_%d.png", jobID, prompt.Page)
	url, err := g.objects.Put(ctx, key, img.ImageBytes, "image/png")
	if err != nil {
		return "", domain.NewPipelineError(domain.ErrorCodeStorageWriteFailed,
			fmt.Sprintf("failed to store rendered image for slot %d", prompt.Page), err)
	}

	g.logger.DebugContext(ctx, "image stored",
		slog.Int("slot", prompt.Page),
		slog.String("url", url))
	return url, nil
}
