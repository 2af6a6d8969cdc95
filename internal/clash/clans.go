package clash

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ClanResolver maps short user-supplied clan tokens to canonical
// identifiers. The mapping is fixed at construction and never mutated
// during pipeline execution.
type ClanResolver struct {
	mapping map[string]string
}

// NewClanResolver copies the given mapping into an immutable resolver.
func NewClanResolver(mapping map[string]string) *ClanResolver {
	copied := make(map[string]string, len(mapping))
	for token, id := range mapping {
		copied[token] = id
	}
	return &ClanResolver{mapping: copied}
}

// Resolve returns the canonical identifier for a token. An empty token
// resolves to absent (ok false); an unmapped token passes through
// unchanged, since the server may accept raw identifiers.
func (r *ClanResolver) Resolve(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	if id, ok := r.mapping[token]; ok {
		return id, true
	}
	return token, true
}

// FetchServerClans retrieves the clan list the server advertises at
// {base}/clans/. Used at startup to seed the token mapping.
func FetchServerClans(ctx context.Context, baseURL string, httpClient *http.Client) ([]string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/clans/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Clans []string `json:"clans"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse clans response: %w", err)
	}
	return payload.Clans, nil
}

// MergeClanList adds identity entries for server-advertised clan names
// to a mapping, without overriding configured tokens.
func MergeClanList(mapping map[string]string, clans []string) map[string]string {
	merged := make(map[string]string, len(mapping)+len(clans))
	for _, clan := range clans {
		clan = strings.TrimSpace(clan)
		if clan != "" {
			merged[clan] = clan
		}
	}
	for token, id := range mapping {
		merged[token] = id
	}
	return merged
}
