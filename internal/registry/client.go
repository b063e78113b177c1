// Package registry looks up funding recipients in the public nonprofit
// registry. Lookups happen during ingestion, before a record reaches the
// scoring engine; the engine itself never touches the network.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fraudwatch/internal/scoring"
)

// Config drives registry client behaviour.
type Config struct {
	BaseURL  string
	State    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Result captures the subset of registry data used for scoring.
type Result struct {
	Name       string
	EIN        string
	Revenue    float64
	Status     scoring.Status
	Similarity float64
	Checked    bool
}

// minMatchRatio is the name-similarity floor below which a candidate
// organization is not accepted as the same entity.
const minMatchRatio = 0.6

// Client performs registry searches with basic caching.
type Client struct {
	httpClient *http.Client
	baseURL    string
	state      string
	cacheTTL   time.Duration
	cache      sync.Map // map[string]cacheEntry
}

type cacheEntry struct {
	at     time.Time
	result Result
}

// NewClient constructs a registry client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://projects.propublica.org/nonprofits/api/v2/search.json"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		state:      strings.TrimSpace(cfg.State),
		cacheTTL:   ttl,
	}
}

// Lookup searches the registry for the entity name and returns EIN, revenue
// and registration status. An entity without an acceptable match comes back
// as Not Found rather than as an error.
func (c *Client) Lookup(ctx context.Context, name string) (Result, error) {
	if c == nil {
		return Result{}, errors.New("registry client is nil")
	}

	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Result{Status: scoring.StatusNotFound, Checked: true}, nil
	}

	if entry, ok := c.cache.Load(key); ok {
		cached := entry.(cacheEntry)
		if time.Since(cached.at) < c.cacheTTL {
			return cached.result, nil
		}
		c.cache.Delete(key)
	}

	result, err := c.performSearch(ctx, name)
	if err != nil {
		return Result{}, err
	}

	c.cache.Store(key, cacheEntry{at: time.Now(), result: result})
	return result, nil
}

func (c *Client) performSearch(ctx context.Context, name string) (Result, error) {
	params := url.Values{}
	params.Set("q", CleanEntityName(name))
	if c.state != "" {
		params.Set("state[id]", c.state)
	}

	endpoint := c.baseURL
	if strings.Contains(endpoint, "?") {
		endpoint = endpoint + "&" + params.Encode()
	} else {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		// back off for 5 seconds and retry once
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(5 * time.Second):
		}
		retryReq, retryErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if retryErr != nil {
			return Result{}, retryErr
		}
		retryReq.Header = req.Header.Clone()
		resp, err = c.httpClient.Do(retryReq)
		if err != nil {
			return Result{}, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("registry status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode registry response: %w", err)
	}

	for _, org := range payload.Organizations {
		ratio := NameSimilarity(name, org.Name)
		if ratio > minMatchRatio {
			return Result{
				Name:       strings.TrimSpace(org.Name),
				EIN:        formatEIN(org.EIN),
				Revenue:    org.RevenueAmount,
				Status:     scoring.StatusActive,
				Similarity: ratio,
				Checked:    true,
			}, nil
		}
	}

	return Result{Status: scoring.StatusNotFound, Checked: true}, nil
}

type searchResponse struct {
	Organizations []organization `json:"organizations"`
}

type organization struct {
	EIN           json.Number `json:"ein"`
	Name          string      `json:"name"`
	RevenueAmount float64     `json:"revenue_amount"`
}

func formatEIN(ein json.Number) string {
	return strings.TrimSpace(ein.String())
}

// CleanEntityName strips corporate suffixes that make registry search
// queries too narrow.
func CleanEntityName(name string) string {
	cleaned := name
	for _, suffix := range []string{"Inc.", "Inc", "LLC", "L.L.C.", "Ltd", "Corp."} {
		cleaned = strings.ReplaceAll(cleaned, suffix, "")
	}
	return strings.Join(strings.Fields(cleaned), " ")
}

// NameSimilarity is a bigram Dice coefficient over the normalized names,
// in [0,1].
func NameSimilarity(a, b string) float64 {
	aBigrams := bigrams(a)
	bBigrams := bigrams(b)
	if len(aBigrams) == 0 || len(bBigrams) == 0 {
		if normalizeName(a) == normalizeName(b) && normalizeName(a) != "" {
			return 1
		}
		return 0
	}

	counts := make(map[string]int, len(aBigrams))
	for _, g := range aBigrams {
		counts[g]++
	}
	overlap := 0
	for _, g := range bBigrams {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(aBigrams)+len(bBigrams))
}

func bigrams(value string) []string {
	normalized := normalizeName(value)
	if len(normalized) < 2 {
		return nil
	}
	grams := make([]string, 0, len(normalized)-1)
	for i := 0; i+2 <= len(normalized); i++ {
		grams = append(grams, normalized[i:i+2])
	}
	return grams
}

func normalizeName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
