package services

import "testing"

func portraitStyle() RenderStyle {
	return RenderStyle{Width: 1080, Height: 1920}
}

func landscapeStyle() RenderStyle {
	return RenderStyle{Width: 1920, Height: 1080}
}

func TestRenderStyleLineChars(t *testing.T) {
	if got := portraitStyle().lineChars(); got != portraitLineChars {
		t.Fatalf("portrait lineChars = %d, want %d", got, portraitLineChars)
	}
	if got := landscapeStyle().lineChars(); got != landscapeLineChars {
		t.Fatalf("landscape lineChars = %d, want %d", got, landscapeLineChars)
	}
}

func TestRenderStyleBaselineY(t *testing.T) {
	p := portraitStyle()
	if got, want := p.baselineY(), portraitBaselineRatio*float64(p.Height); got != want {
		t.Fatalf("portrait baselineY = %v, want %v", got, want)
	}
	l := landscapeStyle()
	if got, want := l.baselineY(), landscapeBaselineRatio*float64(l.Height); got != want {
		t.Fatalf("landscape baselineY = %v, want %v", got, want)
	}
}

func TestRenderWordSegmentShortLineStaysOneLine(t *testing.T) {
	transcript := Transcript{Segments: []TranscriptSegment{
		{Start: 0, End: 1, Text: "hi there", Words: []Word{
			{Text: "hi", Start: 0, End: 0.4},
			{Text: "there", Start: 0.4, End: 1},
		}},
	}}

	cmds := (&SubtitleRenderer{}).Render(transcript, portraitStyle())

	if len(cmds) != 1 {
		t.Fatalf("expected 1 overlay command, got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].TextLine != "hithere" {
		t.Fatalf("expected punctuation-free concatenated text, got %q", cmds[0].TextLine)
	}
}

func TestRenderWordSegmentSplitsOnPunctuation(t *testing.T) {
	transcript := Transcript{Segments: []TranscriptSegment{
		{Start: 0, End: 2, Text: "hello, world", Words: []Word{
			{Text: "hello,", Start: 0, End: 0.5},
			{Text: "world", Start: 0.5, End: 2},
		}},
	}}

	cmds := (&SubtitleRenderer{}).Render(transcript, portraitStyle())

	if len(cmds) != 2 {
		t.Fatalf("expected punctuation to force a line split into 2 commands, got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].TextLine != "hello" || cmds[1].TextLine != "world" {
		t.Fatalf("unexpected split text: %+v", cmds)
	}
}

func TestRenderWordSegmentSplitsLongChunkIntoTwoStackedLines(t *testing.T) {
	// 10 words x 2 chars = 20 clean chars: over the 15-char portrait line,
	// but not over the 30-char forced chunk break, so it stays one chunk.
	words := make([]Word, 0, 10)
	for i := 0; i < 10; i++ {
		words = append(words, Word{Text: "ab", Start: float64(i), End: float64(i) + 1})
	}
	transcript := Transcript{Segments: []TranscriptSegment{
		{Start: 0, End: 10, Text: "", Words: words},
	}}

	cmds := (&SubtitleRenderer{}).Render(transcript, portraitStyle())

	if len(cmds) != 2 {
		t.Fatalf("expected one long chunk to split into 2 stacked lines, got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].Start != cmds[1].Start || cmds[0].End != cmds[1].End {
		t.Fatalf("expected both stacked lines to share the same time span, got %+v", cmds)
	}
	if len([]rune(cmds[0].TextLine)) > portraitLineChars || len([]rune(cmds[1].TextLine)) > portraitLineChars {
		t.Fatalf("expected each stacked line within line width, got %+v", cmds)
	}
}

func TestRenderFallbackSegmentAllocatesProportionalTiming(t *testing.T) {
	transcript := Transcript{Segments: []TranscriptSegment{
		{Start: 0, End: 10, Text: "short. the longer one."},
	}}

	cmds := (&SubtitleRenderer{}).Render(transcript, portraitStyle())

	if len(cmds) != 2 {
		t.Fatalf("expected 2 fallback pieces, got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].Start != 0 {
		t.Fatalf("expected first piece to start at segment start, got %v", cmds[0].Start)
	}
	if cmds[0].End <= cmds[0].Start || cmds[1].End != 10 {
		t.Fatalf("expected proportional allocation ending at segment end, got %+v", cmds)
	}
	if cmds[1].End-cmds[1].Start <= cmds[0].End-cmds[0].Start {
		t.Fatalf("expected the longer clause to get more time, got %+v", cmds)
	}
}

func TestStripAndContainsPunctuation(t *testing.T) {
	if !containsSubtitlePunctuation("hello,") {
		t.Fatal("expected comma to be detected as punctuation")
	}
	if containsSubtitlePunctuation("hello") {
		t.Fatal("expected plain word to have no punctuation")
	}
	if got := stripSubtitlePunctuation("hello, world!"); got != "hello world" {
		t.Fatalf("stripSubtitlePunctuation = %q", got)
	}
}
