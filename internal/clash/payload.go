package clash

import (
	"fmt"
	"time"
)

// rotationField is rejected by the injection endpoints and must be
// stripped before submission.
const rotationField = "rotation"

const dateOnlyLayout = "2006-01-02"

// PayloadBuilder assembles and sanitizes injection payloads.
type PayloadBuilder struct {
	now func() time.Time
}

// NewPayloadBuilder creates a builder using the wall clock.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{now: time.Now}
}

// Build produces the injection payload for one image. The clan key is
// omitted when resolvedClan is empty. explicitDate accepts RFC 3339 or
// a bare date, which is normalized to midnight UTC.
func (b *PayloadBuilder) Build(scores any, resolvedClan, explicitDate string) (InjectionPayload, error) {
	recorded, err := b.recordedDate(explicitDate)
	if err != nil {
		return InjectionPayload{}, err
	}
	return InjectionPayload{
		OpponentScores: SanitizeScores(scores),
		DateRecorded:   recorded,
		Clan:           resolvedClan,
	}, nil
}

func (b *PayloadBuilder) recordedDate(explicit string) (string, error) {
	if explicit == "" {
		return formatRecorded(b.now()), nil
	}
	if parsed, err := time.Parse(time.RFC3339, explicit); err == nil {
		return formatRecorded(parsed), nil
	}
	parsed, err := time.Parse(dateOnlyLayout, explicit)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: use YYYY-MM-DD", explicit)
	}
	return formatRecorded(parsed), nil
}

// formatRecorded renders an ISO-8601 UTC timestamp with a literal Z
// suffix, never the +00:00 offset form.
func formatRecorded(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// SanitizeScores strips rotation fields from the extracted data,
// including inside a nested opponent_scores substructure and list
// elements. Applying it twice yields the same result as applying it
// once.
func SanitizeScores(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, item := range value {
			if key == rotationField {
				continue
			}
			out[key] = SanitizeScores(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(value))
		for _, item := range value {
			out = append(out, SanitizeScores(item))
		}
		return out
	default:
		return v
	}
}
