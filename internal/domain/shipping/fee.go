// Package shipping computes delivery fees from a fixed rate table. The fee is
// always computed server-side; any client-submitted fee is advisory only.
package shipping

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Method enumerates the supported delivery methods.
type Method string

const (
	MethodStandard Method = "standard"
	MethodExpress  Method = "express"
)

// LocalityClass buckets a destination for rate lookup.
type LocalityClass string

const (
	LocalityInnerCity LocalityClass = "inner_city"
	LocalityOuterCity LocalityClass = "outer_city"
	LocalityProvince  LocalityClass = "province"
)

// Config holds the rate table and classification markers. The zero value is
// not usable; construct via DefaultConfig and override as needed.
type Config struct {
	// FreeShippingThreshold waives the fee entirely for subtotals strictly
	// above it.
	FreeShippingThreshold decimal.Decimal

	// MetroMarkers are matched (case-insensitively) as substrings of the
	// destination city to detect the two metropolitan areas.
	MetroMarkers []string

	// InnerCityMarkers are matched against the district string of a
	// metropolitan destination to distinguish inner from outer city.
	InnerCityMarkers []string

	Rates map[LocalityClass]map[Method]decimal.Decimal
}

// DefaultConfig returns the production rate table (VND).
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(500_000),
		MetroMarkers:          []string{"hà nội", "ha noi", "hồ chí minh", "ho chi minh"},
		InnerCityMarkers:      []string{"quận", "quan ", "phường", "phuong "},
		Rates: map[LocalityClass]map[Method]decimal.Decimal{
			LocalityInnerCity: {
				MethodStandard: decimal.Zero,
				MethodExpress:  decimal.NewFromInt(25_000),
			},
			LocalityOuterCity: {
				MethodStandard: decimal.NewFromInt(20_000),
				MethodExpress:  decimal.NewFromInt(35_000),
			},
			LocalityProvince: {
				MethodStandard: decimal.NewFromInt(30_000),
				MethodExpress:  decimal.NewFromInt(45_000),
			},
		},
	}
}

// Calculator computes shipping fees. It is a pure lookup, not a carrier API.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Fee returns the delivery cost for the given destination and method.
// Subtotals above the free-shipping threshold always ship free.
func (c *Calculator) Fee(subtotal decimal.Decimal, city, district string, method Method) decimal.Decimal {
	if subtotal.GreaterThan(c.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}

	class := c.Classify(city, district)

	rates, ok := c.cfg.Rates[class]
	if !ok {
		rates = c.cfg.Rates[LocalityProvince]
	}
	if fee, ok := rates[method]; ok {
		return fee
	}
	return rates[MethodStandard]
}

// Classify buckets a destination into a locality class by substring matching.
func (c *Calculator) Classify(city, district string) LocalityClass {
	cityLower := strings.ToLower(city)

	metro := false
	for _, marker := range c.cfg.MetroMarkers {
		if strings.Contains(cityLower, marker) {
			metro = true
			break
		}
	}
	if !metro {
		return LocalityProvince
	}

	districtLower := strings.ToLower(district)
	for _, marker := range c.cfg.InnerCityMarkers {
		if strings.Contains(districtLower, marker) {
			return LocalityInnerCity
		}
	}
	return LocalityOuterCity
}
