package community

import (
	"chat-engine/errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var regionNamer = display.Regions(language.English)

// NormalizeCountryCode validates an ISO 3166 code (alpha-2, alpha-3 or
// numeric) and returns its canonical alpha-2 form.
func NormalizeCountryCode(raw string) (string, error) {
	region, err := language.ParseRegion(strings.TrimSpace(raw))
	if err != nil || !region.IsCountry() {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidCountry, raw)
	}
	return region.String(), nil
}

// CountryName returns the English display name, falling back to the code.
func CountryName(code string) string {
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if name := regionNamer.Name(region); name != "" {
		return name
	}
	return code
}
