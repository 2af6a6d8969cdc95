package clash

import (
	"context"
	"log/slog"
	"strings"
)

// classificationField is the key the extraction service uses for the
// record type in a classify response.
const classificationField = "Clash Type"

// Classifier determines the clash type of a message batch, once per
// message. Explicit message text takes priority over the classify call.
type Classifier struct {
	extraction *ExtractionClient
	logger     *slog.Logger
}

// NewClassifier creates a classifier backed by the extraction client.
func NewClassifier(log *slog.Logger, extraction *ExtractionClient) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		extraction: extraction,
		logger:     log.With(slog.String("component", "classifier")),
	}
}

// Resolve derives the clash type from the message text, falling back to
// a classify call on the first image. TypeUnknown is a valid terminal
// outcome, not an error.
func (c *Classifier) Resolve(ctx context.Context, messageText string, first *ImageAsset) ClashType {
	if t := typeFromText(messageText); t.Known() {
		return t
	}
	if first == nil || c.extraction == nil {
		return TypeUnknown
	}

	data, err := first.Data(ctx)
	if err != nil {
		c.logger.Warn("classify image fetch failed", slog.String("filename", first.Filename), slog.Any("error", err))
		return TypeUnknown
	}

	result := c.extraction.Extract(ctx, data, first.Filename, PromptClassify)
	if !result.Success {
		c.logger.Warn("classify extraction failed", slog.String("error", result.Err))
		return TypeUnknown
	}
	return typeFromText(classificationValue(result))
}

// typeFromText maps a hydra/chimera substring to a clash type.
// Hydra wins when both appear.
func typeFromText(s string) ClashType {
	lowered := strings.ToLower(s)
	switch {
	case strings.Contains(lowered, "hydra"):
		return TypeHydra
	case strings.Contains(lowered, "chimera"):
		return TypeChimera
	default:
		return TypeUnknown
	}
}

// classificationValue pulls the type field out of a classify response.
// The service may answer with an object, a list of objects, or a bare
// string.
func classificationValue(result ExtractionResult) string {
	switch data := result.Data().(type) {
	case map[string]any:
		return stringValue(data[classificationField])
	case []any:
		if len(data) == 0 {
			return ""
		}
		if first, ok := data[0].(map[string]any); ok {
			return stringValue(first[classificationField])
		}
		return stringValue(data[0])
	case string:
		return data
	default:
		return ""
	}
}

func stringValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
