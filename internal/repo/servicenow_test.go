package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestAppendJobNoteFormat(t *testing.T) {
	at := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)

	got := AppendJobNote("", "Completed", "all good", at)
	want := "-----------------------------------\nJob execution status : Completed at 07-03-2024 09:05 \n\nOutput:\nall good\n-----------------------------------\n"
	if got != want {
		t.Fatalf("unexpected note:\n%q\nwant\n%q", got, want)
	}

	withPrev := AppendJobNote("disk full on vm-a", "Failed", "", at)
	wantPrefix := "disk full on vm-a\n\n-----------------------------------\n"
	if len(withPrev) < len(wantPrefix) || withPrev[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("expected previous description separated by a blank line, got %q", withPrev)
	}
}

func TestServiceNowAppendJobNote(t *testing.T) {
	var patched string
	client := NewServiceNowClient("dev1.service-now.com", "admin", "secret", time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Fatalf("missing basic auth")
		}
		if req.URL.String() != "https://dev1.service-now.com/api/now/table/incident/abc" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		switch req.Method {
		case http.MethodGet:
			return jsonResponse(http.StatusOK, `{"result":{"description":"cpu high"}}`), nil
		case http.MethodPatch:
			var body map[string]string
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			patched = body["description"]
			return jsonResponse(http.StatusOK, `{}`), nil
		}
		t.Fatalf("unexpected method %s", req.Method)
		return nil, nil
	})

	at := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	if err := client.AppendJobNote(context.Background(), "abc", "Completed", "ok", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patched != AppendJobNote("cpu high", "Completed", "ok", at) {
		t.Fatalf("unexpected patched description %q", patched)
	}
}

func TestServiceNowErrorStatus(t *testing.T) {
	client := NewServiceNowClient("https://dev1.service-now.com/", "u", "p", time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"error":"denied"}`), nil
	})
	if _, err := client.GetDescription(context.Background(), "abc"); err == nil {
		t.Fatalf("expected error on 401")
	}
}
