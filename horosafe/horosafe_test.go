package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		url    string
		remote bool
		want   error
	}{
		{"http://localhost:8000", false, nil},
		{"http://127.0.0.1:8000/email", false, nil},
		{"ws://[::1]:8000/ws/status", false, nil},
		{"http://scoring.example.com", false, ErrRemoteEndpoint},
		{"http://scoring.example.com", true, nil},
		{"http://10.0.0.5", false, ErrRemoteEndpoint},
		{"file:///etc/passwd", true, ErrUnsafeScheme},
		{"ftp://localhost", false, ErrUnsafeScheme},
	}
	for _, c := range cases {
		err := ValidateEndpoint(c.url, c.remote, "http", "https", "ws", "wss")
		if c.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", c.url, err)
		}
		if c.want != nil && !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.url, err, c.want)
		}
	}
}

func TestValidateEndpoint_NoHost(t *testing.T) {
	if err := ValidateEndpoint("http://", false, "http"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("at limit: %q %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); err == nil {
		t.Fatal("expected error over limit")
	}
}
