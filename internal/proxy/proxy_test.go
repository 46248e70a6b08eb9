package proxy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultline/ingestcore/internal/proxy"
)

func TestNextReturnsEmptyWithNoProxies(t *testing.T) {
	m := proxy.NewManager(nil)
	if got := m.Next(); got != "" {
		t.Errorf("Next: got %q, want empty string", got)
	}
}

func TestNextRotatesRoundRobin(t *testing.T) {
	m := proxy.NewManager([]string{"http://a", "http://b", "http://c"})

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, m.Next())
	}
	want := []string{"http://a", "http://b", "http://c", "http://a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Next() call %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadFileSkipsBlankAndCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "# comment\nhttp://first\n\nhttp://second\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	m := proxy.NewManager(nil)
	if err := m.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if m.Count() != 2 {
		t.Fatalf("Count: got %d, want 2", m.Count())
	}
	if got := m.Next(); got != "http://first" {
		t.Errorf("Next: got %q, want http://first", got)
	}
}
