// Package sentry configures error reporting and scrubs credentials from
// events before they leave the process.
package sentry

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are HTTP headers that should be redacted from Sentry events.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

// sensitiveKeys are field names that may hold credentials in tags, extra data,
// breadcrumb metadata or query strings.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"access_token":  true,
	"refresh_token": true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"token":         true,
	"secret":        true,
	"jwt":           true,
	"authorization": true,
	"cookie":        true,
}

func isSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// Init configures the global Sentry client. It is a no-op without a DSN.
func Init(dsn, environment, release string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:                   dsn,
		Environment:           environment,
		Release:               release,
		AttachStacktrace:      true,
		SendDefaultPII:        false,
		BeforeSend:            ScrubEvent,
		BeforeSendTransaction: ScrubTransaction,
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	return true, nil
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
// It redacts sensitive headers and query parameters, strips request bodies,
// and scrubs tags, extra data and breadcrumbs.
func ScrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[strings.ToLower(header)] {
				event.Request.Headers[header] = filtered
			}
		}
		event.Request.Cookies = ""
		// Bodies carry passwords on register and token requests.
		event.Request.Data = ""
		event.Request.QueryString = scrubQuery(event.Request.QueryString)
	}

	for key := range event.Tags {
		if isSensitive(key) {
			event.Tags[key] = filtered
		}
	}

	for key := range event.Extra {
		if isSensitive(key) {
			event.Extra[key] = filtered
		}
	}

	for i := range event.Breadcrumbs {
		for key := range event.Breadcrumbs[i].Data {
			if isSensitive(key) {
				event.Breadcrumbs[i].Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	changed := false
	for key := range values {
		if isSensitive(key) {
			values[key] = []string{filtered}
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}
