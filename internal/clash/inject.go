package clash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// InjectionClient posts finalized payloads to the type-specific
// injection endpoints.
type InjectionClient struct {
	// serverURL is the site root used for view links; baseURL is the
	// API base the endpoints live under.
	serverURL  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewInjectionClient creates a client for the given server and API base
// URLs.
func NewInjectionClient(log *slog.Logger, serverURL, baseURL string, httpClient *http.Client) *InjectionClient {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &InjectionClient{
		serverURL:  strings.TrimRight(serverURL, "/"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "injection")),
	}
}

// Inject posts the payload to the endpoint for the given type. The
// caller must have excluded TypeUnknown already; it is refused here.
func (c *InjectionClient) Inject(ctx context.Context, payload InjectionPayload, t ClashType) InjectionResponse {
	if !t.Known() {
		return InjectionResponse{Err: ErrUnknownType.Error()}
	}
	if c.baseURL == "" {
		return InjectionResponse{Err: ErrNoEndpoint.Error()}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return InjectionResponse{Err: err.Error()}
	}

	url := fmt.Sprintf("%s/injest-%s/", c.baseURL, t)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return InjectionResponse{Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return InjectionResponse{Err: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return InjectionResponse{Status: resp.StatusCode, Err: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return InjectionResponse{
			Status: resp.StatusCode,
			Err:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, respBody),
		}
	}

	return parseInjectionBody(resp.StatusCode, respBody, t)
}

// ViewURL builds the edit link for an injected record.
func (c *InjectionClient) ViewURL(t ClashType, clashID string) string {
	if clashID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/edit/", c.serverURL, t, clashID)
}

func parseInjectionBody(status int, body []byte, t ClashType) InjectionResponse {
	out := InjectionResponse{OK: true, Status: status}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var decoded map[string]any
	if err := decoder.Decode(&decoded); err != nil {
		out.Message = string(body)
		return out
	}

	out.Raw = decoded
	if msg, ok := decoded["message"].(string); ok {
		out.Message = msg
	}
	out.ClashID = idString(decoded[t.String()+"_clash_id"])
	return out
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
