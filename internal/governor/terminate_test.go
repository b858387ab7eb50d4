package governor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTerminatorSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	term := NewHTTPTerminator(srv.URL, 5*time.Second)
	if err := term.Terminate(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if gotPath != "/sessions/sess-1/terminate" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestHTTPTerminatorNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	term := NewHTTPTerminator(srv.URL, 5*time.Second)
	err := term.Terminate(context.Background(), "sess-1")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestHTTPTerminatorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	term := NewHTTPTerminator(srv.URL, 5*time.Second)
	err := term.Terminate(context.Background(), "sess-1")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want opaque failure", err)
	}
}

func TestAlreadyGone(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrSessionNotFound, true},
		{errors.New("status 404: gone"), true},
		{errors.New("session Not Found upstream"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := alreadyGone(tc.err); got != tc.want {
			t.Errorf("alreadyGone(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
