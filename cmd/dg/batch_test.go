package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/civitaslab/demandgen/internal/config"
)

func TestBatchCmd_Help(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"batch", "--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("batch --help failed: %v", err)
	}

	out := buf.String()
	for _, sub := range []string{"start", "pause", "resume", "stop", "progress"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestBatchStartCmd_Flags(t *testing.T) {
	cmd := newBatchStartCmd()
	for _, flag := range []string{"config", "entity-type", "size", "auto-approve", "min-quality"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("batch start missing --%s flag", flag)
		}
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg, err := config.Parse([]byte(`
collaborators:
  assessor_url: http://localhost:9000/assess
  generator_urls:
    challenge: http://localhost:9001/generate
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	if _, err := reg.Assessor(); err != nil {
		t.Errorf("assessor not registered: %v", err)
	}
	if _, err := reg.Generator("challenge"); err != nil {
		t.Errorf("challenge generator not registered: %v", err)
	}
	if _, err := reg.Generator("pilot"); err == nil {
		t.Error("expected error for unmapped entity type")
	}
}

func TestBuildRegistry_EmptyURL(t *testing.T) {
	cfg, err := config.Parse([]byte(`
collaborators:
  generator_urls:
    challenge: ""
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if _, err := buildRegistry(cfg); err == nil {
		t.Error("expected error for empty generator URL")
	}
}

func TestBuildSink_NoneConfigured(t *testing.T) {
	cfg, err := config.Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if sink := buildSink(cfg, new(bytes.Buffer)); sink != nil {
		t.Error("expected nil sink with no tokens configured")
	}
}

func TestRunBatchControl(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		switch {
		case strings.Contains(r.URL.Path, "br-live"):
			fmt.Fprint(w, `{"run_id":"br-live","state":"paused"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cmd := newBatchPauseCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"br-live", "--api", srv.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if gotPath != "/api/batch/br-live/pause" {
		t.Errorf("path = %q, want /api/batch/br-live/pause", gotPath)
	}
	if !strings.Contains(buf.String(), "pause requested") {
		t.Errorf("output = %q, want pause confirmation", buf.String())
	}

	// Unknown run maps the API 404 to an error.
	cmd = newBatchStopCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"br-missing", "--api", srv.URL})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "no live run") {
		t.Errorf("err = %v, want no-live-run error", err)
	}
}
