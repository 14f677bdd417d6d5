package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseHelpers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "gone") }, http.StatusNotFound, "gone"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "locator", "no") }, http.StatusUnauthorized, "no"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		tc.write(rec)
		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content-type = %q", tc.name, ct)
		}
		var resp map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if resp["error"] != tc.msg {
			t.Errorf("%s: error = %q, want %q", tc.name, resp["error"], tc.msg)
		}
	}

	rec := httptest.NewRecorder()
	Unauthorized(rec, "locator", "no")
	if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="locator"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	rec = httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"n": 3})
	if rec.Code != http.StatusOK || rec.Body.String() != "{\"n\":3}\n" {
		t.Errorf("WriteJSONOK wrote %d %q", rec.Code, rec.Body.String())
	}
}

func TestDoJSON(t *testing.T) {
	t.Parallel()

	c := NewMockHTTPClient().AddResponse(http.StatusAccepted, `{"accepted":2}`)
	var out struct {
		Accepted int `json:"accepted"`
	}
	err := DoJSON(context.Background(), c, http.MethodPost, "http://locator/frames", "s3cret", []int{1, 2}, &out)
	if err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
	if out.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", out.Accepted)
	}
	if c.RequestCount() != 1 {
		t.Fatalf("RequestCount() = %d", c.RequestCount())
	}
	req := c.Requests[0]
	if got := req.Header.Get("Authorization"); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := string(c.Body(0)); got != "[1,2]" {
		t.Errorf("body = %q", got)
	}
}

func TestDoJSON_Errors(t *testing.T) {
	t.Parallel()

	c := NewMockHTTPClient().
		AddResponse(http.StatusUnauthorized, `{"error":"missing or invalid admin token"}`).
		AddResponse(http.StatusBadGateway, "upstream down\n").
		AddErrorResponse(errors.New("connection refused")).
		AddResponse(http.StatusOK, "not json")

	ctx := context.Background()
	err := DoJSON(ctx, c, http.MethodGet, "http://locator/x", "", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized || se.Message != "missing or invalid admin token" {
		t.Errorf("first call error = %v", err)
	}
	err = DoJSON(ctx, c, http.MethodGet, "http://locator/x", "", nil, nil)
	if !errors.As(err, &se) || se.Message != "upstream down" {
		t.Errorf("second call error = %v", err)
	}
	if err := DoJSON(ctx, c, http.MethodGet, "http://locator/x", "", nil, nil); err == nil {
		t.Error("expected transport error")
	}
	var out map[string]int
	if err := DoJSON(ctx, c, http.MethodGet, "http://locator/x", "", nil, &out); err == nil {
		t.Error("expected decode error")
	}
	if got := c.Requests[0].Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization set without token: %q", got)
	}
}
