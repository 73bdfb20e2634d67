package sentry

import (
	"net/url"
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestScrubEvent_RedactsSensitiveHeaders(t *testing.T) {
	event := &sentry.Event{
		Request: &sentry.Request{
			Headers: map[string]string{
				"Authorization": "Bearer secret-token",
				"Cookie":        "session=abc123",
				"set-cookie":    "session=abc123; HttpOnly",
				"Content-Type":  "application/json",
			},
		},
	}

	result := ScrubEvent(event, nil)

	for _, h := range []string{"Authorization", "Cookie", "set-cookie"} {
		if result.Request.Headers[h] != filtered {
			t.Errorf("expected %s to be [Filtered], got %s", h, result.Request.Headers[h])
		}
	}
	if result.Request.Headers["Content-Type"] != "application/json" {
		t.Errorf("expected Content-Type to be preserved, got %s", result.Request.Headers["Content-Type"])
	}
}

func TestScrubEvent_StripsRequestBody(t *testing.T) {
	event := &sentry.Event{
		Request: &sentry.Request{
			Data:    `{"username":"alice","password":"correct horse"}`,
			Cookies: "session=abc",
		},
	}

	result := ScrubEvent(event, nil)

	if result.Request.Data != "" {
		t.Errorf("expected request body to be stripped, got %s", result.Request.Data)
	}
	if result.Request.Cookies != "" {
		t.Errorf("expected cookies to be stripped, got %s", result.Request.Cookies)
	}
}

func TestScrubEvent_ScrubsQueryString(t *testing.T) {
	event := &sentry.Event{
		Request: &sentry.Request{QueryString: "refresh_token=abc&page=2"},
	}

	result := ScrubEvent(event, nil)

	values, err := url.ParseQuery(result.Request.QueryString)
	if err != nil {
		t.Fatal(err)
	}
	if values.Get("refresh_token") != filtered {
		t.Errorf("expected refresh_token to be [Filtered], got %s", values.Get("refresh_token"))
	}
	if values.Get("page") != "2" {
		t.Errorf("expected page to be preserved, got %s", values.Get("page"))
	}
}

func TestScrubEvent_ScrubsSensitiveTagsAndExtra(t *testing.T) {
	event := &sentry.Event{
		Tags: map[string]string{
			"environment":  "production",
			"access_token": "secret-value",
			"Password":     "hunter2",
		},
		Extra: map[string]interface{}{
			"refresh_token": "r-123",
			"entry":         "1",
		},
	}

	result := ScrubEvent(event, nil)

	if result.Tags["environment"] != "production" {
		t.Errorf("expected environment tag to be preserved, got %s", result.Tags["environment"])
	}
	if result.Tags["access_token"] != filtered || result.Tags["Password"] != filtered {
		t.Errorf("expected credential tags to be filtered, got %v", result.Tags)
	}
	if result.Extra["refresh_token"] != filtered || result.Extra["entry"] != "1" {
		t.Errorf("unexpected extra: %v", result.Extra)
	}
}

func TestScrubEvent_ScrubsBreadcrumbData(t *testing.T) {
	event := &sentry.Event{
		Breadcrumbs: []*sentry.Breadcrumb{
			{
				Data: map[string]interface{}{
					"url":           "/api/token",
					"refresh_token": "secret",
				},
			},
		},
	}

	result := ScrubEvent(event, nil)

	data := result.Breadcrumbs[0].Data
	if data["url"] != "/api/token" {
		t.Errorf("expected url to be preserved, got %v", data["url"])
	}
	if data["refresh_token"] != filtered {
		t.Errorf("expected refresh_token to be [Filtered], got %v", data["refresh_token"])
	}
}

func TestInit_NoDSN(t *testing.T) {
	enabled, err := Init("", "test", "")
	if err != nil || enabled {
		t.Errorf("Init(\"\") = %v, %v; want false, nil", enabled, err)
	}
}
