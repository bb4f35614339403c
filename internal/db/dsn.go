package db

import (
	"fmt"
	"net/url"
	"strings"
)

// RedactDSN hides the password of a postgres:// DSN so it can be logged.
func RedactDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		// allow missing scheme by prefixing postgres://
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	return u.Redacted(), nil
}
