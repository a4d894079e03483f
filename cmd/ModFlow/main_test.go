package main

import (
	"path/filepath"
	"testing"

	"github.com/modflow/ModFlow/internal/store"
)

func TestParseModChannels(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "empty", raw: "", want: 0},
		{name: "single", raw: "12036304@g.us", want: 1},
		{name: "several with spaces", raw: "12036304@g.us, 99887766@g.us ,11223344@g.us", want: 3},
		{name: "trailing comma", raw: "12036304@g.us,", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseModChannels(tt.raw)
			if len(got) != tt.want {
				t.Errorf("parseModChannels(%q) = %v, want %d channels", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	qr := "/tmp/qr.png"
	numeric := true
	dsn := "/tmp/modflow.db"
	empty := ""
	noNumeric := false

	full := Flags{qrOutput: &qr, numeric: &numeric, dbDSN: &dsn}
	if got := len(buildWhatsAppOptions(full)); got != 3 {
		t.Errorf("expected 3 options for full flags, got %d", got)
	}

	bare := Flags{qrOutput: &empty, numeric: &noNumeric, dbDSN: &empty}
	if got := len(buildWhatsAppOptions(bare)); got != 0 {
		t.Errorf("expected no options for bare flags, got %d", got)
	}
}

func TestBuildArchiveStore(t *testing.T) {
	empty := ""
	if s, err := buildArchiveStore(Flags{dbDSN: &empty}); err != nil {
		t.Fatalf("buildArchiveStore(in-memory): %v", err)
	} else if _, ok := s.(*store.InMemoryStore); !ok {
		t.Errorf("expected in-memory store without DSN, got %T", s)
	}

	dsn := filepath.Join(t.TempDir(), "modflow.db")
	s, err := buildArchiveStore(Flags{dbDSN: &dsn})
	if err != nil {
		t.Fatalf("buildArchiveStore(sqlite): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*store.SQLiteStore); !ok {
		t.Errorf("expected SQLite store for file DSN, got %T", s)
	}
}

func TestEnvironmentConfigDefaults(t *testing.T) {
	t.Setenv("WHATSAPP_DB_DSN", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MODFLOW_STATE_DIR", "")

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	want := filepath.Join(DefaultStateDir, DefaultDBFileName)
	if config.WhatsAppDSN != want {
		t.Errorf("WhatsAppDSN = %q, want %q", config.WhatsAppDSN, want)
	}
}

func TestEnvironmentConfigDatabaseURLFallback(t *testing.T) {
	t.Setenv("WHATSAPP_DB_DSN", "")
	t.Setenv("DATABASE_URL", "postgres://modflow@localhost/modflow")

	config := loadEnvironmentConfig()
	if config.WhatsAppDSN != "postgres://modflow@localhost/modflow" {
		t.Errorf("WhatsAppDSN = %q, want DATABASE_URL fallback", config.WhatsAppDSN)
	}
}
