package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"

	"github.com/noelys215/arbiter-api/models"
	"github.com/noelys215/arbiter-api/utils"
)

// Taxonomy is the genre/keyword footprint of one title, used by the mood
// matcher. Empty sets are valid and mean "nothing known".
type Taxonomy struct {
	Genres   stringSet
	Keywords stringSet
	GenreIDs intSet
}

func emptyTaxonomy() Taxonomy {
	return Taxonomy{Genres: newStringSet(), Keywords: newStringSet(), GenreIDs: newIntSet()}
}

// TaxonomyProvider supplies genre/keyword data for deck building. Lookups
// must degrade to an empty taxonomy instead of failing the session flow.
type TaxonomyProvider interface {
	TitleTaxonomy(ctx context.Context, title models.Title) Taxonomy
}

// TitleDetails is the subset of TMDB detail data the backfill worker needs.
type TitleDetails struct {
	RuntimeMinutes *int
	Overview       *string
}

// TMDBClient calls the TMDB v3 API with a short timeout, a TTL cache and a
// circuit breaker. A missing token disables the client entirely.
type TMDBClient struct {
	baseURL string
	token   string
	client  *http.Client
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewTMDBClient() *TMDBClient {
	baseURL := os.Getenv("TMDB_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org"
	}
	token := os.Getenv("TMDB_TOKEN")
	if token == "" {
		log.Println("⚠️ TMDB_TOKEN not set, taxonomy lookups disabled")
	}

	settings := gobreaker.Settings{
		Name:    "tmdb",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
	}

	return &TMDBClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  utils.NewHTTPClient(6 * time.Second),
		cache:   cache.New(10*time.Minute, 15*time.Minute),
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

type tmdbGenre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type tmdbKeyword struct {
	Name string `json:"name"`
}

type tmdbDetailResponse struct {
	Runtime        int    `json:"runtime"`
	EpisodeRunTime []int  `json:"episode_run_time"`
	Overview       string `json:"overview"`
	Genres         []tmdbGenre `json:"genres"`
	Keywords       struct {
		Keywords []tmdbKeyword `json:"keywords"`
		Results  []tmdbKeyword `json:"results"`
	} `json:"keywords"`
}

func (c *TMDBClient) fetchDetail(ctx context.Context, mediaType, tmdbID string) (*tmdbDetailResponse, error) {
	if c.token == "" {
		return nil, fmt.Errorf("tmdb token not configured")
	}

	url := fmt.Sprintf("%s/3/%s/%s?append_to_response=keywords", c.baseURL, mediaType, tmdbID)

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("tmdb detail %s/%s: status %d", mediaType, tmdbID, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}

	var detail tmdbDetailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("tmdb detail %s/%s: %w", mediaType, tmdbID, err)
	}
	return &detail, nil
}

// TitleTaxonomy returns the cached genre/keyword taxonomy for a title.
// Non-TMDB titles and any lookup failure yield an empty taxonomy.
func (c *TMDBClient) TitleTaxonomy(ctx context.Context, title models.Title) Taxonomy {
	if title.Source != "tmdb" || title.SourceID == nil || *title.SourceID == "" {
		return emptyTaxonomy()
	}

	cacheKey := fmt.Sprintf("taxonomy:%s:%s", title.MediaType, *title.SourceID)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(Taxonomy)
	}

	detail, err := c.fetchDetail(ctx, title.MediaType, *title.SourceID)
	if err != nil {
		log.Printf("tmdb taxonomy lookup failed for %s/%s: %v", title.MediaType, *title.SourceID, err)
		return emptyTaxonomy()
	}

	tax := emptyTaxonomy()
	for _, g := range detail.Genres {
		tax.Genres[strings.ToLower(strings.TrimSpace(g.Name))] = struct{}{}
		tax.GenreIDs[g.ID] = struct{}{}
	}
	keywords := detail.Keywords.Keywords
	if title.MediaType == "tv" {
		keywords = detail.Keywords.Results
	}
	for _, kw := range keywords {
		tax.Keywords[strings.ToLower(strings.TrimSpace(kw.Name))] = struct{}{}
	}

	c.cache.Set(cacheKey, tax, cache.DefaultExpiration)
	return tax
}

// TitleDetails fetches runtime and overview for the backfill worker. Unlike
// taxonomy lookups this returns the error so the worker can log and retry.
func (c *TMDBClient) TitleDetails(ctx context.Context, mediaType, tmdbID string) (*TitleDetails, error) {
	detail, err := c.fetchDetail(ctx, mediaType, tmdbID)
	if err != nil {
		return nil, err
	}

	out := &TitleDetails{}
	runtime := detail.Runtime
	if runtime == 0 && len(detail.EpisodeRunTime) > 0 {
		runtime = detail.EpisodeRunTime[0]
	}
	if runtime > 0 {
		out.RuntimeMinutes = &runtime
	}
	if overview := strings.TrimSpace(detail.Overview); overview != "" {
		out.Overview = &overview
	}
	return out, nil
}
