package httpapi

import (
	"testing"
	"time"
)

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB on zero, got %d", maxBodyBytes)
	}
}

func TestSetMaxBodyBytes_PositiveSetsValue(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetProgressInterval_DefaultWhenNonPositive(t *testing.T) {
	SetProgressInterval(-time.Second)
	if progressInterval != 100*time.Millisecond {
		t.Fatalf("expected default, got %v", progressInterval)
	}
	SetProgressInterval(time.Second)
	if progressInterval != time.Second {
		t.Fatalf("expected 1s, got %v", progressInterval)
	}
	SetProgressInterval(0)
}

func TestSetCORSOptions_Copies(t *testing.T) {
	defer SetCORSOptions(false, nil, nil, nil)
	origins := []string{"https://a.example"}
	SetCORSOptions(true, origins, []string{"GET"}, nil)
	origins[0] = "changed"
	if !corsEnabled || corsAllowedOrigins[0] != "https://a.example" {
		t.Fatalf("cors=%v %v", corsEnabled, corsAllowedOrigins)
	}
}
