package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/you/crosslist/internal/handler"
)

func serve(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient("testmarket", srv.URL, "tok")
}

func TestPublishParsesListingRef(t *testing.T) {
	c := serve(t, 200, `{"listing_id":"L42","url":"https://m/L42"}`)
	ref, err := c.Publish(context.Background(), "res-1", nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ref.ListingID != "L42" || ref.URL != "https://m/L42" {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	c := serve(t, 502, ``)
	_, err := c.Publish(context.Background(), "res-1", nil)
	var me *handler.Error
	if !errors.As(err, &me) || me.Permanent {
		t.Fatalf("5xx must be a transient marketplace error, got %v", err)
	}
}

func TestRateLimitResponseIsTransient(t *testing.T) {
	c := serve(t, 429, ``)
	_, err := c.Sync(context.Background(), "res-1")
	var me *handler.Error
	if !errors.As(err, &me) || me.Permanent {
		t.Fatalf("429 must stay retryable, got %v", err)
	}
}

func TestValidationRejectionIsPermanent(t *testing.T) {
	c := serve(t, 422, `{"message":"title too long"}`)
	_, err := c.Publish(context.Background(), "res-1", nil)
	var me *handler.Error
	if !errors.As(err, &me) || !me.Permanent {
		t.Fatalf("4xx must be permanent, got %v", err)
	}
	if me.Msg != "testmarket: title too long" {
		t.Fatalf("msg = %q, want the marketplace message surfaced", me.Msg)
	}
}
