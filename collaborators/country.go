package collaborators

import (
	"chat-engine/domain"
	"chat-engine/domain/community"
	"chat-engine/errors"
	"context"
)

type countryKey struct{}

// WithCountry attaches the country reported by the edge (a geo header for
// instance) to the request context.
func WithCountry(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, countryKey{}, code)
}

// ContextCountryDetector reads the country attached by WithCountry and
// falls back to a default one. An empty default disables the fallback.
type ContextCountryDetector struct {
	defaultCountry string
}

func NewContextCountryDetector(defaultCountry string) ContextCountryDetector {
	return ContextCountryDetector{defaultCountry: defaultCountry}
}

func (d ContextCountryDetector) DetectCountry(ctx context.Context) (domain.Country, error) {
	code, _ := ctx.Value(countryKey{}).(string)
	if code == "" {
		code = d.defaultCountry
	}
	if code == "" {
		return domain.Country{}, errors.ErrCountryNotDetected
	}
	normalized, err := community.NormalizeCountryCode(code)
	if err != nil {
		return domain.Country{}, err
	}
	return domain.Country{Code: normalized, Name: community.CountryName(normalized)}, nil
}
