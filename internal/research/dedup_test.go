package research

import "testing"

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/page", "example.com"},
		{"https://www.example.com/page", "example.com"},
		{"https://blog.example.co.uk/post", "example.co.uk"},
		{"http://sub.deep.example.org", "example.org"},
		{"not a url at all", ""},
	}
	for _, tt := range tests {
		if got := RegistrableDomain(tt.url); got != tt.want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestBlocked(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/article", false},
		{"https://www.facebook.com/page", true},
		{"https://x.com/status/1", true},
		{"https://example.com/report.pdf", true},
		{"https://example.com/deck.PPTX", true},
		{"ftp://example.com/file", true},
		{"https://docs.example.com/guide.html", false},
	}
	for _, tt := range tests {
		if got := Blocked(tt.url); got != tt.want {
			t.Errorf("Blocked(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestDedupeKeepsFirstPerDomain(t *testing.T) {
	in := []Result{
		{Title: "A", URL: "https://example.com/1"},
		{Title: "B", URL: "https://news.example.com/2"}, // same registrable domain
		{Title: "C", URL: "https://other.org/3"},
		{Title: "D", URL: "https://reddit.com/r/x"}, // blocked
	}
	got := Dedupe(in)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Title != "A" || got[1].Title != "C" {
		t.Errorf("order not preserved: %+v", got)
	}
}
