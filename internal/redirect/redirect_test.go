package redirect

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"
)

func TestAllows(t *testing.T) {
	plain := Target{Host: "app.example.com"}
	secure := Target{Host: "app.example.com", Secure: true}

	tests := []struct {
		name      string
		target    Target
		candidate string
		want      bool
	}{
		{"relative path", plain, "/account/", true},
		{"relative with query", plain, "/jobs?page=2", true},
		{"same host http", plain, "http://app.example.com/x", true},
		{"same host https", plain, "https://app.example.com/x", true},
		{"same host uppercase", plain, "https://APP.example.com/x", true},
		{"other host", plain, "https://evil.com/", false},
		{"scheme relative other host", plain, "//evil.com/", false},
		{"triple slash", plain, "///evil.com/", false},
		{"backslash trick", plain, `/\evil.com`, false},
		{"backslash scheme relative", plain, `\\evil.com`, false},
		{"scheme without host", plain, "http:evil.com", false},
		{"javascript", plain, "javascript:alert(1)", false},
		{"userinfo", plain, "https://app.example.com@evil.com/", false},
		{"userinfo on our host", plain, "https://evil@app.example.com/", false},
		{"ftp same host", plain, "ftp://app.example.com/", false},
		{"leading control char", plain, "\x08//evil.com", false},
		{"empty", plain, "", false},
		{"blank", plain, "   ", false},
		{"port mismatch", plain, "https://app.example.com:8443/", false},
		{"downgrade to http", secure, "http://app.example.com/x", false},
		{"scheme relative under https", secure, "//app.example.com/x", false},
		{"https under https", secure, "https://app.example.com/x", true},
		{"relative under https", secure, "/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.Allows(tt.candidate); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tg := Target{Host: "app.example.com"}

	if got := tg.Resolve("/profile/", "/"); got != "/profile/" {
		t.Errorf("Resolve(safe) = %q, want /profile/", got)
	}
	if got := tg.Resolve("https://evil.com/", "/home/"); got != "/home/" {
		t.Errorf("Resolve(unsafe) = %q, want /home/", got)
	}
	if got := tg.Resolve("", "/home/"); got != "/home/" {
		t.Errorf("Resolve(empty) = %q, want /home/", got)
	}
}

func TestCandidate(t *testing.T) {
	if got := Candidate("/a", "http://x/b"); got != "/a" {
		t.Errorf("Candidate prefers next, got %q", got)
	}
	if got := Candidate("", "http://x/b"); got != "http://x/b" {
		t.Errorf("Candidate falls back to referer, got %q", got)
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "http://app.example.com/auth/github/start/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")

	if got := FromRequest(r, false); got.Secure {
		t.Error("untrusted X-Forwarded-Proto must not mark the request secure")
	}
	if got := FromRequest(r, true); !got.Secure {
		t.Error("trusted X-Forwarded-Proto=https should mark the request secure")
	}

	r.TLS = &tls.ConnectionState{}
	got := FromRequest(r, false)
	if !got.Secure || got.Host != "app.example.com" {
		t.Errorf("FromRequest(TLS) = %+v", got)
	}
}
