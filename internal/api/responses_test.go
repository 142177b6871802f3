package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"id": "abc"})

	if rec.Code != 201 {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 400, "bad input")

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q", body.Error)
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"defaults", "", 50, 0, false},
		{"explicit", "limit=10&offset=20", 10, 20, false},
		{"zero_limit", "limit=0", 0, 0, true},
		{"negative_offset", "offset=-1", 0, 0, true},
		{"non_numeric", "limit=abc", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p, err := ParsePagination(req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePagination: %v", err)
			}
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest("GET", "/?provider=aws&diarization=true&from=2026-03-01T00:00:00Z&n=7", nil)

	if v, ok := QueryString(req, "provider"); !ok || v != "aws" {
		t.Errorf("QueryString = %q, %v", v, ok)
	}
	if _, ok := QueryString(req, "missing"); ok {
		t.Error("QueryString found missing param")
	}
	if b, ok := QueryBool(req, "diarization"); !ok || !b {
		t.Errorf("QueryBool = %v, %v", b, ok)
	}
	if n, ok := QueryInt(req, "n"); !ok || n != 7 {
		t.Errorf("QueryInt = %d, %v", n, ok)
	}
	if ts, ok := QueryTime(req, "from"); !ok || ts.Year() != 2026 {
		t.Errorf("QueryTime = %v, %v", ts, ok)
	}
	if _, ok := QueryTime(req, "provider"); ok {
		t.Error("QueryTime parsed a non-time value")
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"provider":"gcp"}`))

	var body struct {
		Provider string `json:"provider"`
	}
	if err := DecodeJSON(req, &body); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if body.Provider != "gcp" {
		t.Errorf("Provider = %q", body.Provider)
	}
}
