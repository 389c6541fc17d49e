package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTavilyClient_Search(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{
			"answer": "Use integration by parts.",
			"results": [
				{"title": "Integration by parts", "url": "https://en.wikipedia.org/wiki/Integration_by_parts", "content": "<p>Let <b>u</b> = x</p>", "score": 0.9},
				{"title": "Khan", "url": "https://khanacademy.org/ibp", "content": "  plain text  "}
			]
		}`))
	}))
	defer srv.Close()

	c := NewTavilyClient("tvly-key", srv.URL)
	ans, err := c.Search(context.Background(), "integral of x sin x")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got.APIKey != "tvly-key" || got.Query != "integral of x sin x" {
		t.Errorf("request = %+v", got)
	}
	if got.SearchDepth != "advanced" || !got.IncludeAnswer || got.MaxResults != 5 {
		t.Errorf("request options = %+v", got)
	}
	if len(got.IncludeDomains) != len(AllowedDomains) || got.IncludeDomains[0] != "*.edu" {
		t.Errorf("include_domains = %v", got.IncludeDomains)
	}

	if ans.Text != "Use integration by parts." {
		t.Errorf("answer = %q", ans.Text)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("got %d sources", len(ans.Sources))
	}
	if ans.Sources[0].Content != "Let u = x" {
		t.Errorf("html not stripped: %q", ans.Sources[0].Content)
	}
	if ans.Sources[1].Content != "plain text" {
		t.Errorf("plain content = %q", ans.Sources[1].Content)
	}
}

func TestTavilyClient_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTavilyClient("k", srv.URL).Search(context.Background(), "q")
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if he.Code != http.StatusUnauthorized || he.Error() != "API error: 401" {
		t.Errorf("HTTPError = %+v / %q", he, he.Error())
	}
}

func TestTavilyClient_Configured(t *testing.T) {
	if NewTavilyClient("  ", "").Configured() {
		t.Error("blank key reported as configured")
	}
	if !NewTavilyClient("k", "").Configured() {
		t.Error("key reported as unconfigured")
	}
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"no markup":                             "no markup",
		"<div>a<script>var x=1</script> b</div>": "a b",
		"<style>p{}</style><p>x &amp; y</p>":    "x & y",
		"  \n spaced  ":                         "spaced",
	}
	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Errorf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}
