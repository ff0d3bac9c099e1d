package cache

import (
	"context"

	"threecommas-tsl-bot/internal/engine"
	"threecommas-tsl-bot/internal/threecommas"
)

// CachedClient decorates a platform client with cached reference-data
// reads. GetFundingData and GetAccountMarketCode are intercepted;
// every other call passes straight through. Cache errors degrade to a
// direct API call.
type CachedClient struct {
	engine.PlatformClient
	cache *CacheService
}

// NewCachedClient wraps client with the funding-data cache.
func NewCachedClient(client engine.PlatformClient, cache *CacheService) *CachedClient {
	return &CachedClient{PlatformClient: client, cache: cache}
}

// GetFundingData returns the pair's funding limits, served from Redis
// when a fresh copy exists.
func (c *CachedClient) GetFundingData(ctx context.Context, dealID int64) (*threecommas.FundingData, error) {
	key := FundingDataKey(dealID)

	var cached threecommas.FundingData
	if err := c.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	data, err := c.PlatformClient.GetFundingData(ctx, dealID)
	if err != nil {
		return nil, err
	}

	// Best effort; a write failure only costs the next lookup.
	_ = c.cache.SetJSON(ctx, key, data, FundingDataTTL)
	return data, nil
}

// AddFunds places the order and drops the deal's cached funding
// limits, which change once funds are added.
func (c *CachedClient) AddFunds(ctx context.Context, dealID int64, quantity, limitPrice float64) error {
	if err := c.PlatformClient.AddFunds(ctx, dealID, quantity, limitPrice); err != nil {
		return err
	}
	_ = c.cache.Delete(ctx, FundingDataKey(dealID))
	return nil
}

// GetAccountMarketCode returns the account's exchange market code.
// Market codes never change for an account, so hits are kept for a
// day.
func (c *CachedClient) GetAccountMarketCode(ctx context.Context, accountID int64) (string, error) {
	key := MarketCodeKey(accountID)
	if code, err := c.cache.Get(ctx, key); err == nil && code != "" {
		return code, nil
	}

	code, err := c.PlatformClient.GetAccountMarketCode(ctx, accountID)
	if err != nil {
		return "", err
	}
	_ = c.cache.Set(ctx, key, code, MarketCodeTTL)
	return code, nil
}
