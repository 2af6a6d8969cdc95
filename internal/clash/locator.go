package clash

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/raideye/raideye/internal/channel"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>()]+`)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
}

// Locator discovers candidate images within a message. Discovery itself
// is a pure read; byte downloads happen lazily through each asset.
type Locator struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLocator creates a locator using the shared HTTP client for lazy
// downloads.
func NewLocator(log *slog.Logger, httpClient *http.Client) *Locator {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Locator{
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "locator")),
	}
}

// Locate returns the message's candidate images in discovery order:
// attachments, then embeds, then links found in the free text.
func (l *Locator) Locate(msg channel.InboundMessage) []*ImageAsset {
	var assets []*ImageAsset

	for _, att := range msg.Message.Attachments {
		if !isImageAttachment(att) {
			continue
		}
		assets = append(assets, NewImageAsset(att.Name, OriginAttachment, att.URL, l.fetcher(att.URL)))
	}

	for _, embed := range msg.Message.Embeds {
		for _, embedURL := range []string{embed.ImageURL, embed.ThumbnailURL} {
			if !acceptEmbedURL(embedURL) {
				continue
			}
			assets = append(assets, NewImageAsset(filenameFromURL(embedURL), OriginEmbed, embedURL, l.fetcher(embedURL)))
		}
	}

	for _, link := range urlPattern.FindAllString(msg.Message.Text, -1) {
		if !hasImageExtension(filenameFromURL(link)) {
			continue
		}
		assets = append(assets, NewImageAsset(filenameFromURL(link), OriginLink, link, l.fetcher(link)))
	}

	return assets
}

// fetcher builds the lazy download closure for a URL. Failures are
// surfaced per asset and do not affect discovery of the others.
func (l *Locator) fetcher(rawURL string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		data, err := l.download(ctx, rawURL)
		if err != nil {
			l.logger.Warn("image fetch failed", slog.String("url", rawURL), slog.Any("error", err))
			return nil, err
		}
		return data, nil
	}
}

func (l *Locator) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

func isImageAttachment(att channel.Attachment) bool {
	if att.Name == "" && att.URL == "" {
		return false
	}
	if hasImageExtension(att.Name) {
		return true
	}
	return strings.HasPrefix(att.Mime, "image/")
}

// acceptEmbedURL admits embed image and thumbnail URLs. The platform
// already declares these as images, so a missing extension does not
// disqualify them; a non-image extension does.
func acceptEmbedURL(rawURL string) bool {
	if strings.TrimSpace(rawURL) == "" {
		return false
	}
	name := filenameFromURL(rawURL)
	if path.Ext(name) == "" {
		return true
	}
	return hasImageExtension(name)
}

func hasImageExtension(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(parsed.Path)
}
