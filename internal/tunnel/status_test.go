package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusClientQuerySuccess(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/deadbeef" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept header = %q, want application/json", got)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"alias": "foo"})
	}))
	defer srv.Close()

	c := NewStatusClient("remote.invalid", "deadbeef")
	host := strings.TrimPrefix(srv.URL, "https://")
	got, err := c.Query(context.Background(), &StatusOptions{Host: host})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got["alias"] != "foo" {
		t.Fatalf("Query() = %v, want alias=foo", got)
	}
}

func TestStatusClientQueryNon200CarriesMessage(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "unknown"})
	}))
	defer srv.Close()

	c := NewStatusClient("remote.invalid", "deadbeef")
	host := strings.TrimPrefix(srv.URL, "https://")
	_, err := c.Query(context.Background(), &StatusOptions{Host: host})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected error to carry body message, got %v", err)
	}
}

func TestStatusClientQueryUnparseableBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewStatusClient("remote.invalid", "deadbeef")
	host := strings.TrimPrefix(srv.URL, "https://")
	_, err := c.Query(context.Background(), &StatusOptions{Host: host})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
}
