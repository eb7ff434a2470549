package quantumbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnimeClient_Search(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/anime", r.URL.Path)
				assert.Equal(t, "cowboy bebop", r.URL.Query().Get("filter[text]"))
				assert.Equal(t, "5", r.URL.Query().Get("page[limit]"))
				assert.Equal(
					t,
					"application/vnd.api+json",
					r.Header.Get("Accept"),
				)

				w.Header().Set("Content-Type", "application/vnd.api+json")
				_, _ = w.Write(
					[]byte(`{
						"data": [
							{
								"id": "1",
								"attributes": {
									"canonicalTitle": "Cowboy Bebop",
									"synopsis": "Bounty hunters in space.",
									"averageRating": "82.21",
									"status": "finished",
									"episodeCount": 26,
									"startDate": "1998-04-03",
									"posterImage": {
										"small": "https://example.com/poster.jpg"
									}
								}
							},
							{
								"id": "2",
								"attributes": {
									"canonicalTitle": "Cowboy Bebop: The Movie",
									"status": "finished"
								}
							}
						]
					}`),
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	client := NewAnimeClient(
		&AnimeConfig{BaseURL: srv.URL, RequestsPerSecond: 100},
		srv.Client(),
		nil,
	)

	results, err := client.Search(context.Background(), "cowboy bebop")
	require.NoError(t, err)
	require.Len(t, results, 2)

	best := results[0]
	assert.Equal(t, "1", best.ID)
	assert.Equal(t, "Cowboy Bebop", best.Title)
	assert.Equal(t, "Bounty hunters in space.", best.Synopsis)
	assert.Equal(t, "82.21", best.AverageRating)
	assert.Equal(t, "finished", best.Status)
	assert.Equal(t, 26, best.EpisodeCount)
	assert.Equal(t, "1998-04-03", best.StartDate)
	assert.Equal(t, "https://example.com/poster.jpg", best.PosterURL)
	assert.Equal(t, "https://kitsu.io/anime/1", best.URL)
}

func TestAnimeClient_SearchNotFound(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"data": []}`))
			},
		),
	)
	t.Cleanup(srv.Close)

	client := NewAnimeClient(
		&AnimeConfig{BaseURL: srv.URL, RequestsPerSecond: 100},
		srv.Client(),
		nil,
	)

	_, err := client.Search(context.Background(), "definitely not an anime")
	require.ErrorIs(t, err, ErrAnimeNotFound)
}

func TestAnimeClient_SearchServerError(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		),
	)
	t.Cleanup(srv.Close)

	client := NewAnimeClient(
		&AnimeConfig{BaseURL: srv.URL, RequestsPerSecond: 100},
		srv.Client(),
		nil,
	)

	_, err := client.Search(context.Background(), "cowboy bebop")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAnimeNotFound)
}
