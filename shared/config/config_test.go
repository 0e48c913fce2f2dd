package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("broker-a:9092, broker-b:9092, ,,")
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "broker-a:9092" || got[1] != "broker-b:9092" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestAsBool(t *testing.T) {
	for _, raw := range []string{"1", "true", "Yes", " on "} {
		if b, ok := asBool(raw); !ok || !b {
			t.Fatalf("expected %q to parse as true", raw)
		}
	}
	if _, ok := asBool("maybe"); ok {
		t.Fatalf("expected invalid boolean to be rejected")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg, problems := Load("ingest-api", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.DBSchema != "shrc" {
		t.Fatalf("expected default schema shrc, got %q", cfg.DBSchema)
	}
	if cfg.UpstreamListTimeout != 60 || cfg.UpstreamDetailTimeout != 120 {
		t.Fatalf("unexpected upstream timeouts: %d/%d", cfg.UpstreamListTimeout, cfg.UpstreamDetailTimeout)
	}
	if cfg.SyncIntervalHours != 3 || cfg.SyncLookbackHours != 3 {
		t.Fatalf("unexpected sync window: %d/%d", cfg.SyncIntervalHours, cfg.SyncLookbackHours)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("HTTP_PORT", "notaport")
	cfg, problems := Load("ingest-api", 8080)
	if cfg.HTTPPort != 8080 {
		t.Fatalf("expected fallback port 8080, got %d", cfg.HTTPPort)
	}
	if len(problems) == 0 {
		t.Fatalf("expected a problem for invalid HTTP_PORT")
	}
}
