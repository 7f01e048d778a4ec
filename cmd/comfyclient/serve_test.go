package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"comfyclient/internal/config"
	"comfyclient/pkg/types"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(p, []byte("node: file.os\naddr: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(p, envMap(map[string]string{"COMFYCLIENT_ADDR": ":9001"}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Node != "file.os" || cfg.Addr != ":9001" || cfg.RouterTimeoutSeconds != 20 {
		t.Fatalf("unexpected cfg %+v", cfg)
	}

	if _, err := loadConfig("", envMap(nil)); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("want invalid config without a node, got %v", err)
	}
	if _, err := loadConfig(filepath.Join(dir, "missing.yaml"), envMap(nil)); err == nil {
		t.Fatalf("want load error")
	}
}

func TestNewLogger(t *testing.T) {
	if l := newLogger("debug", os.Stderr); l.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	if l := newLogger("", os.Stderr); l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("empty level = %v", l.GetLevel())
	}
	if l := newLogger("loud", os.Stderr); l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("bad level = %v", l.GetLevel())
	}
}

func TestNewApp_FileBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Node:            "me.os",
		RouterProcess:   "router:comfyui_provider:nick1udwig.os",
		RollupSequencer: "seq.os@sequencer:comfyui_provider:nick1udwig.os",
		State:           config.StateConfig{Path: filepath.Join(dir, "state.json")},
		Images:          config.ImagesConfig{Dir: filepath.Join(dir, "images")},
	}.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The sequencer node is not in the nodes table; bootstrap keeps going.
	a, err := newApp(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if _, err := os.Stat(filepath.Join(dir, "images")); err != nil {
		t.Fatalf("image dir not created: %v", err)
	}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		t.Fatalf("bootstrap should persist state: %v", err)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Node != "me.os@client:comfyui_provider:nick1udwig.os" || !st.Ready {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestNewApp_BadBackends(t *testing.T) {
	cfg := config.Config{Node: "me.os", State: config.StateConfig{Path: filepath.Join(t.TempDir(), "s.json")}}.WithDefaults()
	cfg.Images.Minio = config.MinioConfig{Endpoint: "minio:9000"}
	if _, err := newApp(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("want error for minio without bucket")
	}
}
