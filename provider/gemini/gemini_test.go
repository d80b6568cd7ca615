package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/getanswer/provider/gemini"
)

func TestAnswer(t *testing.T) {
	var gotPath, gotKey, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")

		var payload struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotPrompt = payload.Contents[0].Parts[0].Text

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"The answer "},{"text":"is 4."}]}}]}`))
	}))
	defer srv.Close()

	c := gemini.New("secret", gemini.WithEndpoint(srv.URL), gemini.WithModel("gemini-test"))
	answer, err := c.Answer(context.Background(), "2+2=?")
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	if answer != "The answer is 4." {
		t.Errorf("answer = %q", answer)
	}
	if gotPath != "/v1beta/models/gemini-test:generateContent" || gotKey != "secret" {
		t.Errorf("request path=%q key=%q", gotPath, gotKey)
	}
	if !strings.HasPrefix(gotPrompt, "You are an expert tutor.") || !strings.HasSuffix(gotPrompt, "\"2+2=?\"") {
		t.Errorf("prompt = %q", gotPrompt)
	}
}

func TestAnswerEmptyAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr string
	}{
		{"no candidates", http.StatusOK, `{"candidates":[]}`, "", ""},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, "", "SAFETY"},
		{"server error", http.StatusInternalServerError, `boom`, "", "status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := gemini.New("k", gemini.WithEndpoint(srv.URL)).Answer(context.Background(), "q")
			if tt.wantErr == "" {
				if err != nil || got != tt.want {
					t.Errorf("Answer() = %q, %v", got, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestAnswerHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := gemini.New("k", gemini.WithEndpoint(srv.URL)).Answer(ctx, "q"); err == nil {
		t.Error("expected a context error")
	}
}
