package database

import (
	"net/url"
	"strconv"

	"github.com/TungTran2095/studio-sub004/internal/config"
)

const applicationName = "tradecore"

// DSN builds a PostgreSQL connection URL. User and password are escaped by
// url.UserPassword; sslmode defaults to prefer.
func DSN(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
