package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	e, err := Parse([]byte(`
graph:
  sample_rate: 44100
  reverb_seconds: 1.5
envelope:
  sustained_release: 1.2
playback:
  min_loop_seconds: 30
`))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if e.Graph.SampleRate != 44100 || e.Graph.ReverbSeconds != 1.5 {
		t.Fatalf("graph = %+v", e.Graph)
	}
	if e.Graph.MasterGain != def.Graph.MasterGain {
		t.Fatalf("master gain lost its default: %v", e.Graph.MasterGain)
	}
	if e.Envelope.SustainedRelease != 1.2 || e.Envelope.DiscreteRelease != def.Envelope.DiscreteRelease {
		t.Fatalf("envelope = %+v", e.Envelope)
	}
	if e.Voice != def.Voice {
		t.Fatalf("voice params changed: %+v", e.Voice)
	}
	if e.Playback.MinLoopSeconds != 30 || e.Playback.StopFade != def.Playback.StopFade {
		t.Fatalf("playback = %+v", e.Playback)
	}
}

func TestParseRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want string
	}{
		{"bad yaml", "graph: [", "unmarshalling"},
		{"sample rate", "graph: {sample_rate: 0}", "graph.sample_rate"},
		{"level", "voice: {discrete_level: 2}", "voice.discrete_level"},
		{"depths", "envelope: {min_depth: 0.8, max_depth: 0.5}", "envelope depths"},
		{"silence", "envelope: {silence: 0}", "envelope.silence"},
		{"min loop", "playback: {min_loop_seconds: 0}", "playback.min_loop_seconds"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWatchDeliversReloadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("graph: {master_gain: 0.5}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	configs := make(chan Engine, 4)
	errs := make(chan error, 4)
	done := make(chan struct{})
	defer close(done)
	if err := Watch(path, configs, errs, done); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("graph: {master_gain: 0.25}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-configs:
			if e.Graph.MasterGain == 0.25 {
				return
			}
		case err := <-errs:
			// a write can be observed while the file is still truncated
			t.Logf("reload error: %v", err)
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}
