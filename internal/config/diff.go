package config

import (
	"remindd/pkg/logx"
)

// SummarizeChange reports which sections differ between two configs plus
// log-safe attributes for the new values. Secrets (keys, tokens, DSNs)
// are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.address", newCfg.HTTP.Address),
			logx.Bool("http.bypass_signature", newCfg.HTTP.BypassSignature),
			logx.Bool("http.signature_key_set", newCfg.HTTP.SignatureKey != ""))
	}
	if oldCfg.Logging != newCfg.Logging || oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("debug", newCfg.Debug))
	}
	if oldCfg.Staging != newCfg.Staging {
		changed = append(changed, "staging")
		attrs = append(attrs, logx.String("staging.driver", newCfg.Staging.Driver))
	}
	if oldCfg.Database != newCfg.Database {
		changed = append(changed, "database")
		attrs = append(attrs, logx.Bool("database.dsn_set", newCfg.Database.DSN != ""))
	}
	if oldCfg.Unread != newCfg.Unread {
		changed = append(changed, "unread")
		attrs = append(attrs,
			logx.Int("unread.delay_minutes", newCfg.Unread.DelayMinutes),
			logx.String("unread.schedule", newCfg.Unread.Schedule))
	}
	if oldCfg.Calling != newCfg.Calling {
		changed = append(changed, "calling")
		attrs = append(attrs,
			logx.Int("calling.basis_minutes", newCfg.Calling.BasisMinutes),
			logx.String("calling.schedule", newCfg.Calling.Schedule))
	}
	if oldCfg.Email != newCfg.Email {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.Bool("email.api_key_set", newCfg.Email.APIKey != ""),
			logx.Bool("email.sandbox", newCfg.Email.Sandbox))
	}
	if oldCfg.Chat != newCfg.Chat {
		changed = append(changed, "chat")
		attrs = append(attrs, logx.Bool("chat.api_token_set", newCfg.Chat.APIToken != ""))
	}
	if oldCfg.Push != newCfg.Push {
		changed = append(changed, "push")
		attrs = append(attrs, logx.Bool("push.disabled", newCfg.Push.Disabled))
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Int("dispatch.workers", newCfg.Dispatch.Workers))
	}

	return changed, attrs
}
