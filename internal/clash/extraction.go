package clash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"
)

// PromptClassify asks the extraction service to classify the record type
// instead of extracting scores.
const PromptClassify = "classify"

// RecordPrompt returns the extraction prompt label for a record type.
func RecordPrompt(t ClashType) string {
	return t.String() + " clash record"
}

// ExtractionClient sends images to the recognition endpoint. A call is a
// single attempt; failures are captured in the result, never retried.
type ExtractionClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExtractionClient creates a client for the given API base URL.
func NewExtractionClient(log *slog.Logger, baseURL string, httpClient *http.Client) *ExtractionClient {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ExtractionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "extraction")),
	}
}

// Extract posts one image with the given prompt label and returns the
// parsed result. A 2xx body that is not JSON is legitimate plain text.
func (c *ExtractionClient) Extract(ctx context.Context, image []byte, filename, promptType string) ExtractionResult {
	if c.baseURL == "" {
		return failedResult(ErrNoEndpoint.Error())
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, filename))
	header.Set("Content-Type", imageContentType(filename))
	part, err := writer.CreatePart(header)
	if err != nil {
		return failedResult(err.Error())
	}
	if _, err := part.Write(image); err != nil {
		return failedResult(err.Error())
	}
	if err := writer.WriteField("prompt_type", promptType); err != nil {
		return failedResult(err.Error())
	}
	if err := writer.Close(); err != nil {
		return failedResult(err.Error())
	}

	url := c.baseURL + "/extract/personal_scores/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return failedResult(err.Error())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failedResult(err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failedResult(err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failedResult(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body))
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return textResult(string(body))
	}
	return structuredResult(decoded)
}

func imageContentType(filename string) string {
	if mimeType := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	return "image/png"
}
