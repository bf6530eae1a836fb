package timesource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
)

func TestSystemNow(t *testing.T) {
	src := System{}

	before := time.Now().Unix()
	got, err := src.Now(context.Background())
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}
	after := time.Now().Unix()

	if got < before || got > after {
		t.Errorf("Now() = %d, want between %d and %d", got, before, after)
	}
}

func TestHTTPNow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %q, want %q", ua, userAgent)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"now": {"epoch": 1509001724.0427694, "iso8601": "2017-10-26T07:48:44Z"}}`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		Mode:       "http",
		URL:        server.URL,
		EpochField: "now.epoch",
		Timeout:    5,
	})

	got, err := src.Now(context.Background())
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}

	if got != 1509001724 {
		t.Errorf("Now() = %d, want 1509001724 (fraction truncated)", got)
	}
}

func TestHTTPNowTopLevelField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unixtime": 1700000000}`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "unixtime",
	})

	got, err := src.Now(context.Background())
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}
	if got != 1700000000 {
		t.Errorf("Now() = %d, want 1700000000", got)
	}
}

func TestHTTPNowStringEpoch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"epoch": "1700000123"}`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "epoch",
	})

	got, err := src.Now(context.Background())
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}
	if got != 1700000123 {
		t.Errorf("Now() = %d, want 1700000123", got)
	}
}

func TestHTTPNowMissingField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"now": {"iso8601": "2017-10-26T07:48:44Z"}}`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "now.epoch",
	})

	_, err := src.Now(context.Background())
	if !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("Now() error = %v, want ErrFieldNotFound", err)
	}
}

func TestHTTPNowNonObjectSegment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"now": 1700000000}`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "now.epoch",
	})

	_, err := src.Now(context.Background())
	if !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("Now() error = %v, want ErrFieldNotFound", err)
	}
}

func TestHTTPNowServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "now.epoch",
	})

	_, err := src.Now(context.Background())
	if err == nil {
		t.Error("Now() expected error for non-200 response")
	}
}

func TestHTTPNowInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "now.epoch",
	})

	_, err := src.Now(context.Background())
	if err == nil {
		t.Error("Now() expected error for invalid JSON")
	}
}

func TestHTTPNowCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"now": {"epoch": 1700000000}}`))
	}))
	defer server.Close()

	src := NewHTTP(config.TimeSourceConfig{
		URL:        server.URL,
		EpochField: "now.epoch",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Now(ctx)
	if err == nil {
		t.Error("Now() expected error for cancelled context")
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		wantHTTP bool
		wantErr  bool
	}{
		{name: "system mode", mode: "system"},
		{name: "empty mode defaults to system", mode: ""},
		{name: "http mode", mode: "http", wantHTTP: true},
		{name: "unknown mode", mode: "ntp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := FromConfig(config.TimeSourceConfig{
				Mode: tt.mode,
				URL:  "http://example.test/now",
			})

			if tt.wantErr {
				if err == nil {
					t.Fatal("FromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromConfig() error = %v", err)
			}

			_, isHTTP := src.(*HTTP)
			if isHTTP != tt.wantHTTP {
				t.Errorf("FromConfig() returned %T, wantHTTP = %v", src, tt.wantHTTP)
			}
		})
	}
}
