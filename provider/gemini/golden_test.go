package gemini_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/xraph/getanswer/provider/gemini"
)

// TestGenerateRequestGolden pins the exact wire body sent to generateContent.
// Regenerate with: go test ./provider/gemini -run Golden -update
func TestGenerateRequestGolden(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"2x"}]}}]}`))
	}))
	defer srv.Close()

	c := gemini.New("k", gemini.WithEndpoint(srv.URL))
	if _, err := c.Answer(context.Background(), "What is the derivative of x^2?"); err != nil {
		t.Fatal(err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "generate_request", body)
}
