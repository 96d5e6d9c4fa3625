package config

import (
	"net/url"
	"slices"
)

const (
	redacted = "***"
	// redactedURLPart survives URL escaping unchanged.
	redactedURLPart = "REDACTED"
)

// Redacted returns a copy of cfg that is safe to log. Secrets are masked and
// credentials embedded in URLs are stripped.
func Redacted(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	out.Chain.RPCURL = redactURL(cfg.Chain.RPCURL)
	out.Indexer.URLs = make([]string, len(cfg.Indexer.URLs))
	for i, u := range cfg.Indexer.URLs {
		out.Indexer.URLs[i] = redactURL(u)
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks userinfo and the query string. Hosted RPC providers put
// API keys in either place; a key in the path is masked wholesale.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if raw == "" {
			return ""
		}
		return redacted
	}
	if u.User != nil {
		u.User = url.User(redactedURLPart)
	}
	if u.RawQuery != "" {
		u.RawQuery = redactedURLPart
	}
	if len(u.Path) > 1 {
		u.Path = "/" + redactedURLPart
		u.RawPath = ""
	}
	return u.String()
}
