// Package cli holds helpers shared by the command line tools
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	errMalicious  = errors.New("potentially malicious input detected")
	sqlPattern    = regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)
	identPattern  = regexp.MustCompile(`^[a-z0-9_]+$`)
	symbolPattern = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+$`)
)

// ValidateInput rejects shell, traversal and SQL injection patterns
func ValidateInput(input string) error {
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return errMalicious
	}

	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return errMalicious
	}

	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return errMalicious
	}

	return nil
}

// ParseVenueList splits a comma separated venue list ("upbit,bithumb").
// Empty input yields nil, meaning "all configured venues".
func ParseVenueList(input string) ([]string, error) {
	if err := ValidateInput(input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	var names []string
	for _, part := range strings.Split(input, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid venue name %q", part)
		}
		names = append(names, name)
	}
	return names, nil
}

// ParseSymbol normalizes a BASE/QUOTE symbol ("btc/krw" -> "BTC/KRW")
func ParseSymbol(input string) (string, error) {
	if err := ValidateInput(input); err != nil {
		return "", err
	}
	symbol := strings.ToUpper(strings.TrimSpace(input))
	if !symbolPattern.MatchString(symbol) {
		return "", fmt.Errorf("invalid symbol %q, expected BASE/QUOTE", input)
	}
	return symbol, nil
}
