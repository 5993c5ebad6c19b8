package main

import (
	"testing"

	"github.com/kwspace/kws/internal/vfs/schema"
)

func TestRootSource(t *testing.T) {
	ws := schema.NewWorkspace("site")
	ws.Sources = []schema.SyncSource{
		{Kind: schema.SourceRemoteRepository, Location: "https://example.com/r.git"},
		{Kind: schema.SourceLocalPath, Location: "/srv/assets", Prefix: "assets"},
		{Kind: schema.SourceLocalPath, Location: "/srv/site"},
	}

	src, ok := rootSource(ws)
	if !ok || src.Location != "/srv/site" {
		t.Errorf("rootSource() = %+v, %v; want /srv/site", src, ok)
	}

	ws.Sources = ws.Sources[:2]
	if _, ok := rootSource(ws); ok {
		t.Error("rootSource() should find nothing when every local source has a prefix")
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a/very/long/path.txt", 10, "...ath.txt"},
		{"abc", 3, "abc"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := truncatePath(tt.in, tt.max); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 bytes",
		1024:            "1024 bytes",
		2048:            "2.0 KB",
		3 * 1024 * 1024: "3.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDescribeSource(t *testing.T) {
	got := describeSource(schema.SyncSource{Kind: schema.SourceLocalPath, Location: "/srv/www", Prefix: "public"})
	if want := "local_path /srv/www -> /public"; got != want {
		t.Errorf("describeSource() = %q, want %q", got, want)
	}
}
