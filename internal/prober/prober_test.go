package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExistsReturnsTrueForExistingArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"pages":{"12345":{"pageid":12345,"title":"Go"}}}}`))
	}))
	defer server.Close()

	c := New(time.Second)
	exists, err := c.existsAt(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected article to be reported as existing")
	}
}

func TestExistsReturnsFalseForMissingArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"pages":{"-1":{"missing":"","title":"NoSuchPage"}}}}`))
	}))
	defer server.Close()

	c := New(time.Second)
	exists, err := c.existsAt(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected missing article to be reported as not existing")
	}
}

func TestExistsPropagatesTransportErrors(t *testing.T) {
	c := New(10 * time.Millisecond)
	_, err := c.existsAt(context.Background(), "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected a transport error for an unreachable endpoint")
	}
	if !strings.Contains(err.Error(), "probe request") {
		t.Errorf("expected wrapped probe error, got %v", err)
	}
}
