package webshare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kptv-panel/work/database"
	"kptv-panel/work/logger"
	"kptv-panel/work/metrics"
	"kptv-panel/work/types"
)

// DefaultBaseURL is the proxy provider's API root.
const DefaultBaseURL = "https://proxy.webshare.io/api/v2"

// APIKeysSetting is the settings-table key holding the JSON array of
// provider API keys. Multiple paid accounts are pooled together.
const APIKeysSetting = "webshare_api_keys"

const pageSize = 100

// Client talks to the paid proxy provider's list API. The request path never
// touches this; the pool is synced out of band and the core only reads the
// locally materialized endpoints.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClient creates a provider client with a bounded request timeout.
func NewClient() *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// proxyRecord mirrors one entry of the provider's list response.
type proxyRecord struct {
	ProxyAddress string `json:"proxy_address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CountryCode  string `json:"country_code"`
	Valid        bool   `json:"valid"`
}

type listResponse struct {
	Results []proxyRecord `json:"results"`
	Next    string        `json:"next"`
}

// FetchProxies lists all proxies for one API key, following pagination.
// Invalid entries are dropped at this boundary.
func (c *Client) FetchProxies(ctx context.Context, apiKey string) ([]types.ProxyEndpoint, error) {
	var endpoints []types.ProxyEndpoint

	for page := 1; ; page++ {
		records, next, err := c.fetchPage(ctx, apiKey, page)
		if err != nil {
			return nil, err
		}

		for _, rec := range records {
			if !rec.Valid {
				continue
			}
			endpoints = append(endpoints, types.ProxyEndpoint{
				Host:        rec.ProxyAddress,
				Port:        rec.Port,
				Username:    rec.Username,
				Password:    rec.Password,
				Protocol:    "socks5",
				CountryCode: strings.ToUpper(rec.CountryCode),
				Status:      types.StatusActive,
			})
		}

		if next == "" {
			return endpoints, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, apiKey string, page int) ([]proxyRecord, string, error) {
	endpoint := fmt.Sprintf("%s/proxy/list/", c.BaseURL)
	q := url.Values{}
	q.Set("mode", "direct")
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build list request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("proxy list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("proxy list returned HTTP %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", fmt.Errorf("failed to decode proxy list: %w", err)
	}
	return list.Results, list.Next, nil
}

// SyncPool fetches proxies for every stored API key and replaces the local
// pool wholesale, respecting the provider's daily endpoint rotation. A key
// that fails is logged and skipped so one dead account cannot empty the pool
// built from the others.
func (c *Client) SyncPool(ctx context.Context, db *database.DB) (int, error) {
	keys, err := LoadAPIKeys(db)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("no provider API keys configured")
	}

	var pool []types.ProxyEndpoint
	for _, key := range keys {
		endpoints, err := c.FetchProxies(ctx, key)
		if err != nil {
			logger.Error("{webshare - SyncPool} key %s...: %v", truncateKey(key), err)
			continue
		}
		pool = append(pool, endpoints...)
	}

	if err := db.ReplaceProxies(pool); err != nil {
		return 0, err
	}

	metrics.ProxyPoolSize.Set(float64(len(pool)))
	logger.Info("Synced %d proxies from provider", len(pool))
	return len(pool), nil
}

// LoadAPIKeys reads the stored provider API keys from settings.
func LoadAPIKeys(db *database.DB) ([]string, error) {
	raw, err := db.GetSetting(APIKeysSetting)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse stored API keys: %w", err)
	}
	return keys, nil
}

// SaveAPIKeys stores the provider API keys as a JSON array in settings.
func SaveAPIKeys(db *database.DB, keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return db.SetSetting(APIKeysSetting, string(raw))
}

func truncateKey(key string) string {
	if len(key) <= 5 {
		return key
	}
	return key[:5]
}
