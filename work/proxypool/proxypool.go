package proxypool

import (
	"strings"

	"kptv-panel/work/database"
	"kptv-panel/work/logger"
	"kptv-panel/work/types"
)

// euCountries is the fixed fallback set used when neither the requested
// country nor GB has an active endpoint.
var euCountries = map[string]bool{
	"FR": true, "DE": true, "NL": true, "IT": true, "ES": true, "SE": true, "CH": true,
}

// Selector picks an outbound proxy from the materialized pool. Selection is
// first-match over a deterministic ordering, not weighted or random, so the
// same pool state always yields the same endpoint.
type Selector struct {
	db *database.DB
}

// NewSelector creates a Selector reading from the given database.
func NewSelector(db *database.DB) *Selector {
	return &Selector{db: db}
}

// Select returns the preferred active endpoint, or nil when the pool is
// empty. A nil result means "fetch directly" and is never an error.
//
// Priority: requested country, then GB, then the EU set, then any active
// endpoint.
func (s *Selector) Select(countryCode string) *types.ProxyEndpoint {
	endpoints, err := s.db.LoadActiveProxies()
	if err != nil {
		logger.Error("{proxypool - Select} failed to load pool: %v", err)
		return nil
	}
	return SelectFrom(endpoints, countryCode)
}

// SelectFrom applies the country-preference policy to an already-loaded pool
// slice. Split out from Select so the policy is testable without a database.
func SelectFrom(endpoints []types.ProxyEndpoint, countryCode string) *types.ProxyEndpoint {
	if len(endpoints) == 0 {
		return nil
	}

	countryCode = strings.ToUpper(countryCode)
	if countryCode != "" {
		if p := firstByCountry(endpoints, countryCode); p != nil {
			return p
		}
	}

	if p := firstByCountry(endpoints, "GB"); p != nil {
		return p
	}

	for i := range endpoints {
		if euCountries[endpoints[i].CountryCode] {
			return &endpoints[i]
		}
	}

	return &endpoints[0]
}

func firstByCountry(endpoints []types.ProxyEndpoint, countryCode string) *types.ProxyEndpoint {
	for i := range endpoints {
		if endpoints[i].CountryCode == countryCode {
			return &endpoints[i]
		}
	}
	return nil
}
