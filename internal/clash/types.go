// Package clash implements the image ingestion pipeline for clash score
// records: image discovery, extraction, classification, clan resolution,
// payload assembly, and injection into the score server.
package clash

import (
	"context"
	"fmt"
	"strings"
)

// ClashType identifies the record type of a score submission.
type ClashType string

const (
	TypeHydra   ClashType = "hydra"
	TypeChimera ClashType = "chimera"
	TypeUnknown ClashType = "unknown"
)

// String returns the clash type as a plain string.
func (t ClashType) String() string {
	return string(t)
}

// Known reports whether the type maps to an injection endpoint.
func (t ClashType) Known() bool {
	return t == TypeHydra || t == TypeChimera
}

// ImageOrigin records where a candidate image was discovered.
type ImageOrigin string

const (
	OriginAttachment ImageOrigin = "attachment"
	OriginEmbed      ImageOrigin = "embed"
	OriginLink       ImageOrigin = "link"
)

// ImageAsset is a candidate image discovered in a message. Bytes are
// fetched lazily on first use and cached for the rest of the batch.
type ImageAsset struct {
	Filename string
	Origin   ImageOrigin
	URL      string

	fetch func(ctx context.Context) ([]byte, error)
	data  []byte
}

// NewImageAsset creates an asset whose bytes are produced by fetch.
func NewImageAsset(filename string, origin ImageOrigin, url string, fetch func(ctx context.Context) ([]byte, error)) *ImageAsset {
	return &ImageAsset{Filename: filename, Origin: origin, URL: url, fetch: fetch}
}

// NewStaticAsset creates an asset backed by in-memory bytes.
func NewStaticAsset(filename string, origin ImageOrigin, data []byte) *ImageAsset {
	return &ImageAsset{Filename: filename, Origin: origin, data: data}
}

// Data returns the image bytes, fetching them on first call.
func (a *ImageAsset) Data(ctx context.Context) ([]byte, error) {
	if a.data != nil {
		return a.data, nil
	}
	if a.fetch == nil {
		return nil, fmt.Errorf("asset %s has no byte source", a.Filename)
	}
	data, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}
	a.data = data
	return data, nil
}

// ExtractionResult is the outcome of one extraction-service call. The
// service may answer with JSON (Structured) or plain text (RawText);
// exactly one of the two is set when Success is true.
type ExtractionResult struct {
	Success    bool
	Structured any
	RawText    string
	Err        string
}

// Data returns the extracted value regardless of shape.
func (r ExtractionResult) Data() any {
	if r.Structured != nil {
		return r.Structured
	}
	return r.RawText
}

func structuredResult(data any) ExtractionResult {
	return ExtractionResult{Success: true, Structured: data}
}

func textResult(text string) ExtractionResult {
	return ExtractionResult{Success: true, RawText: text}
}

func failedResult(msg string) ExtractionResult {
	return ExtractionResult{Err: msg}
}

// InjectionPayload is the JSON body posted to an injection endpoint.
// Clan is omitted entirely when no token was resolved.
type InjectionPayload struct {
	OpponentScores any    `json:"opponent_scores"`
	DateRecorded   string `json:"date_recorded"`
	Clan           string `json:"clan,omitempty"`
}

// InjectionResponse is the parsed reply of an injection endpoint.
type InjectionResponse struct {
	OK      bool
	Status  int
	ClashID string
	Message string
	Raw     any
	Err     string
}

// ProcessOptions configures one batch run.
type ProcessOptions struct {
	// ForcedType skips classification when set to a known type.
	ForcedType ClashType
	// ClanToken is the short user-supplied clan identifier, optional.
	ClanToken string
	// DryRun previews the payload instead of calling the injection endpoint.
	DryRun bool
	// DateRecorded optionally overrides the recorded timestamp
	// (RFC 3339 or YYYY-MM-DD).
	DateRecorded string
	// DeleteSource removes the originating message after a fully
	// successful batch.
	DeleteSource bool
}

// ProcessingOutcome is the per-image result within a batch.
type ProcessingOutcome struct {
	Filename     string
	Origin       ImageOrigin
	ExtractionOK bool
	InjectionOK  bool
	// Handled marks an image that reached a terminal state without
	// injection (unclassifiable batch).
	Handled bool
	ViewURL string
	Preview string
	Err     string
}

// succeeded reports whether the outcome counts toward batch success.
func (o ProcessingOutcome) succeeded(dryRun bool) bool {
	if o.Handled {
		return o.Err == ""
	}
	if dryRun {
		return o.ExtractionOK
	}
	return o.InjectionOK
}

// BatchResult aggregates the outcomes of one message batch.
type BatchResult struct {
	BatchID      string
	Type         ClashType
	Total        int
	Succeeded    int
	AllSucceeded bool
	CleanupRan   bool
	DryRun       bool
	Outcomes     []ProcessingOutcome
}

const maxErrorLen = 200

// Summary renders the user-facing batch report.
func (r BatchResult) Summary() string {
	if r.Total == 0 {
		return "No valid images found to process."
	}

	var b strings.Builder
	if r.Type.Known() {
		fmt.Fprintf(&b, "Processed %d image(s) as %s clash: %d succeeded, %d failed.",
			r.Total, r.Type, r.Succeeded, r.Total-r.Succeeded)
	} else {
		fmt.Fprintf(&b, "Could not determine clash type; %d image(s) left untouched.", r.Total)
	}

	for i, outcome := range r.Outcomes {
		fmt.Fprintf(&b, "\nImage %d (%s): ", i+1, outcome.Filename)
		switch {
		case outcome.Handled && outcome.Err == "":
			b.WriteString("handled, no type")
		case outcome.Err != "":
			b.WriteString("failed - " + truncateError(outcome.Err))
		case outcome.Preview != "":
			b.WriteString("dry run preview\n```json\n" + outcome.Preview + "\n```")
		default:
			b.WriteString("success")
			if outcome.ViewURL != "" {
				b.WriteString(" | " + outcome.ViewURL)
			}
		}
	}

	if r.DryRun {
		b.WriteString("\nDRY RUN - no data was sent.")
	}
	return b.String()
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen] + "..."
}
