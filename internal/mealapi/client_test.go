package mealapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUploadSendsBearerAndBody(t *testing.T) {
	var got UploadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/meals" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewClient(server.URL+"/api/", Options{Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Upload(context.Background(), UploadRequest{MealID: "m1", B64Img: "aGk="}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got.MealID != "m1" || got.B64Img != "aGk=" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestAPIErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{name: "message", status: http.StatusBadRequest, body: `{"error":"bad_image","message":"image too large"}`, code: "bad_image", message: "image too large"},
		{name: "error only", status: http.StatusUnprocessableEntity, body: `{"error":"no food detected"}`, message: "no food detected"},
		{name: "plain text", status: http.StatusBadGateway, body: "upstream down\n", message: "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, _ := NewClient(server.URL, Options{})
			err := client.Feedback(context.Background(), FeedbackRequest{MealID: "m1", Feedback: "more rice"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tc.status || apiErr.Code != tc.code || apiErr.Message != tc.message {
				t.Fatalf("unexpected error: %+v", apiErr)
			}
			if apiErr.Reason() != tc.message {
				t.Fatalf("unexpected reason %q", apiErr.Reason())
			}
		})
	}
}

func TestOversizedResponsesAreCapped(t *testing.T) {
	huge := bytes.Repeat([]byte("x"), maxResponseBytes+4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/meals/sync" {
			_, _ = w.Write(huge)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write(huge)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, Options{})
	err := client.Feedback(context.Background(), FeedbackRequest{MealID: "m1", Feedback: "more rice"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || len(apiErr.Message) != maxErrorMessageBytes {
		t.Fatalf("unexpected error: status=%d message length=%d", apiErr.Status, len(apiErr.Message))
	}

	if _, err := client.Sync(context.Background(), time.Unix(0, 0)); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
}

func TestSyncPassesSinceAndDecodes(t *testing.T) {
	since := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meals/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("since") != "2024-01-01T12:00:00Z" {
			t.Errorf("unexpected since %q", r.URL.Query().Get("since"))
		}
		_, _ = w.Write([]byte(`{"analyses":[{"meal_id":"m1","meal_name":"Salad","ingredients":[{"name":"Lettuce","carbs":2,"proteins":1,"fats":0}],"timestamp":"2024-01-01T13:00:00Z"}]}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, Options{})
	resp, err := client.Sync(context.Background(), since)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(resp.Analyses) != 1 || resp.Analyses[0].MealID != "m1" || resp.Analyses[0].Ingredients[0].Carbs != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUploadHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewClient(server.URL, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := client.Upload(ctx, UploadRequest{MealID: "m1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	if _, err := NormalizeBaseURL(""); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NormalizeBaseURL("api.example.com"); err == nil {
		t.Fatal("expected error for missing scheme")
	}
	got, err := NormalizeBaseURL(" https://api.example.com/v1/ ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "https://api.example.com/v1" {
		t.Fatalf("unexpected url %s", got)
	}
}
