package quantumbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrAnimeNotFound indicates no anime matched the search text.
var ErrAnimeNotFound = errors.New("no anime found")

const animeSearchLimit = 5

// Anime holds the fields of a Kitsu anime entry that the bot displays.
type Anime struct {
	ID            string
	Title         string
	Synopsis      string
	AverageRating string
	Status        string
	EpisodeCount  int
	StartDate     string
	PosterURL     string
	URL           string
}

func (a Anime) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", a.ID),
		slog.String("title", a.Title),
		slog.String("status", a.Status),
	)
}

type kitsuAnimeResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			CanonicalTitle string `json:"canonicalTitle"`
			Synopsis       string `json:"synopsis"`
			AverageRating  string `json:"averageRating"`
			Status         string `json:"status"`
			EpisodeCount   int    `json:"episodeCount"`
			StartDate      string `json:"startDate"`
			PosterImage    struct {
				Small string `json:"small"`
			} `json:"posterImage"`
		} `json:"attributes"`
	} `json:"data"`
}

// AnimeClient searches the Kitsu API. Outgoing requests are rate
// limited so a burst of /anime commands can't hammer the API.
type AnimeClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewAnimeClient returns a new AnimeClient using the given config. A
// nil httpClient falls back to a default with a 10s timeout.
func NewAnimeClient(
	config *AnimeConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *AnimeClient {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultAnimeBaseURL
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultAnimeRequestsPerSecond
	}
	return &AnimeClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		logger:     logger,
	}
}

// Search returns up to animeSearchLimit entries matching the given
// text, best match first. Returns [ErrAnimeNotFound] if nothing
// matched.
func (c *AnimeClient) Search(ctx context.Context, text string) ([]Anime, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("filter[text]", text)
	query.Set("page[limit]", fmt.Sprintf("%d", animeSearchLimit))
	searchURL := fmt.Sprintf("%s/anime?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error searching anime: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.logger.InfoContext(
		ctx,
		"anime search",
		"text", text,
		"status", resp.StatusCode,
		"duration", time.Since(started),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	var payload kitsuAnimeResponse
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, ErrAnimeNotFound
	}

	results := make([]Anime, 0, len(payload.Data))
	for _, entry := range payload.Data {
		results = append(
			results, Anime{
				ID:            entry.ID,
				Title:         entry.Attributes.CanonicalTitle,
				Synopsis:      entry.Attributes.Synopsis,
				AverageRating: entry.Attributes.AverageRating,
				Status:        entry.Attributes.Status,
				EpisodeCount:  entry.Attributes.EpisodeCount,
				StartDate:     entry.Attributes.StartDate,
				PosterURL:     entry.Attributes.PosterImage.Small,
				URL:           "https://kitsu.io/anime/" + entry.ID,
			},
		)
	}
	return results, nil
}
