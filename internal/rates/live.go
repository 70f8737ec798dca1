package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LiveConfig configures a LiveProvider.
type LiveConfig struct {
	// BaseURL is the API root, e.g. https://v6.exchangerate-api.com/v6.
	BaseURL string
	// APIKey is inserted as a path segment after BaseURL when set.
	APIKey            string
	CacheTTL          time.Duration
	CacheSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// LiveProvider looks rates up from an exchangerate-api compatible endpoint
// and falls back to a static table whenever the endpoint cannot answer, so an
// import never blocks on network availability. Known currencies are exactly
// those of the fallback table.
type LiveProvider struct {
	cfg      LiveConfig
	client   *http.Client
	fallback *StaticTable
	cache    *expirable.LRU[string, float64]
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewLiveProvider creates a provider. A nil client gets a default one with
// cfg.Timeout.
func NewLiveProvider(cfg LiveConfig, fallback *StaticTable, client *http.Client, log zerolog.Logger) *LiveProvider {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &LiveProvider{
		cfg:      cfg,
		client:   client,
		fallback: fallback,
		cache:    expirable.NewLRU[string, float64](cfg.CacheSize, nil, cfg.CacheTTL),
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
	}
}

// Resolve implements Resolver. The live endpoint only serves latest rates, so
// onOrBefore is passed through to the fallback and otherwise ignored.
func (p *LiveProvider) Resolve(ctx context.Context, currency string, onOrBefore *civil.Date) (float64, error) {
	code := NormalizeCode(currency)
	if !p.fallback.Known(code) {
		return 0, fmt.Errorf("conversion rate for currency %s not found: %w", currency, ErrUnknownCurrency)
	}
	if code == p.Reference() {
		return 1, nil
	}

	if cached, ok := p.cache.Get(code); ok {
		return cached, nil
	}

	multiplier, err := p.fetch(ctx, code)
	if err != nil {
		p.log.Warn().Err(err).Str("currency", code).Msg("Live rate lookup failed, using static table")
		return p.fallback.Resolve(ctx, code, onOrBefore)
	}

	p.cache.Add(code, multiplier)
	return multiplier, nil
}

// Known implements Resolver.
func (p *LiveProvider) Known(currency string) bool { return p.fallback.Known(currency) }

// Reference implements Resolver.
func (p *LiveProvider) Reference() string { return p.fallback.Reference() }

type latestResponse struct {
	Result          string             `json:"result"`
	BaseCode        string             `json:"base_code"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

func (p *LiveProvider) fetch(ctx context.Context, code string) (float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: throttle: %v", ErrRateSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.latestURL(code), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrRateSourceUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrRateSourceUnavailable, resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrRateSourceUnavailable, err)
	}
	if body.Result != "" && body.Result != "success" {
		return 0, fmt.Errorf("%w: result %q", ErrRateSourceUnavailable, body.Result)
	}

	multiplier, ok := body.ConversionRates[p.Reference()]
	if !ok || multiplier <= 0 {
		return 0, fmt.Errorf("%w: no %s rate for %s", ErrRateSourceUnavailable, p.Reference(), code)
	}
	return multiplier, nil
}

func (p *LiveProvider) latestURL(code string) string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	if p.cfg.APIKey != "" {
		base += "/" + p.cfg.APIKey
	}
	return base + "/latest/" + code
}

var _ Resolver = (*LiveProvider)(nil)
