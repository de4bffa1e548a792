package services

import (
	"strings"
	"testing"
)

func TestParseResolution(t *testing.T) {
	w, h, err := parseResolution("1920x1080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 1920 || h != 1080 {
		t.Fatalf("got %dx%d, want 1920x1080", w, h)
	}

	if _, _, err := parseResolution("garbage"); err == nil {
		t.Fatal("expected error for malformed resolution")
	}
}

func TestBuildSentenceFilterGraphIncludesCoverScaleZoompanAndOverlays(t *testing.T) {
	overlays := []OverlayCommand{
		{TextLine: "hello", Start: 0, End: 1, XExpr: "(w-text_w)/2", YExpr: "100", BoxStyle: "box=1"},
	}
	vf := buildSentenceFilterComplex(1080, 1920, 25, 0.0005, 3.0, overlays)

	if !strings.Contains(vf, "crop=1080:1920") {
		t.Fatalf("expected cover crop to target resolution, got %s", vf)
	}
	if !strings.Contains(vf, "zoompan=") {
		t.Fatalf("expected zoompan stage, got %s", vf)
	}
	if !strings.Contains(vf, "drawtext=text='hello'") {
		t.Fatalf("expected drawtext overlay for each command, got %s", vf)
	}
}

func TestBuildSentenceFilterGraphMinimumOneSecondOfFrames(t *testing.T) {
	vf := buildSentenceFilterComplex(1080, 1920, 25, 0.0005, 0.1, nil)
	if !strings.Contains(vf, "d=25:") {
		t.Fatalf("expected zoompan duration clamped to at least fps frames, got %s", vf)
	}
}

func TestEscapeDrawtextText(t *testing.T) {
	got := escapeDrawtextText(`it's a "test": 50%`)
	if strings.Contains(got, "'") && !strings.Contains(got, "’") {
		t.Fatalf("expected single quotes replaced, got %q", got)
	}
	if !strings.Contains(got, "\\:") {
		t.Fatalf("expected colon escaped, got %q", got)
	}
	if !strings.Contains(got, "\\%") {
		t.Fatalf("expected percent escaped, got %q", got)
	}
}
