package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/jonathan/shorts-agent/internal/fetch"
)

const defaultOEmbedEndpoint = "https://www.youtube.com/oembed"

// Metadata is the title and channel of a video, used as profiler hints.
type Metadata struct {
	Title   string `json:"title"`
	Channel string `json:"author_name"`
}

// MetadataResolver looks up video metadata.
type MetadataResolver interface {
	Resolve(ctx context.Context, videoID string) (Metadata, error)
}

// OEmbedResolver resolves metadata through the public oEmbed endpoint, which
// needs no credentials.
type OEmbedResolver struct {
	Endpoint string
	Client   *fetch.Client
}

// NewOEmbedResolver creates a resolver against YouTube's oEmbed endpoint.
func NewOEmbedResolver() *OEmbedResolver {
	return &OEmbedResolver{Endpoint: defaultOEmbedEndpoint, Client: fetch.NewClient()}
}

// Resolve implements MetadataResolver.
func (r *OEmbedResolver) Resolve(ctx context.Context, videoID string) (Metadata, error) {
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = defaultOEmbedEndpoint
	}
	q := url.Values{}
	q.Set("url", WatchURL(videoID))
	q.Set("format", "json")

	client := r.Client
	if client == nil {
		client = fetch.NewClient()
	}
	res, err := client.Get(ctx, endpoint+"?"+q.Encode())
	if err != nil {
		return Metadata{}, fmt.Errorf("oembed lookup for %s: %w", videoID, err)
	}

	var md Metadata
	if err := json.Unmarshal([]byte(res.Body), &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode oembed response: %w", err)
	}
	return md, nil
}
