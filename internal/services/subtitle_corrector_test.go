package services

import "testing"

func TestMergeCorrectedRejectsSegmentCountMismatch(t *testing.T) {
	original := Transcript{Segments: []TranscriptSegment{
		{Text: "hello world", Start: 0, End: 1, Words: []Word{{Text: "hello", Start: 0, End: 0.5}, {Text: "world", Start: 0.5, End: 1}}},
	}}
	corrected := Transcript{Segments: []TranscriptSegment{
		{Text: "hello world", Start: 0, End: 1},
		{Text: "extra segment", Start: 1, End: 2},
	}}

	got := mergeCorrected(original, corrected)

	if len(got.Segments) != 1 {
		t.Fatalf("expected fallback to original's 1 segment, got %d", len(got.Segments))
	}
	if got.Segments[0].Text != "hello world" {
		t.Fatalf("expected original text preserved, got %q", got.Segments[0].Text)
	}
}

func TestMergeCorrectedRejectsWordCountMismatch(t *testing.T) {
	original := Transcript{Segments: []TranscriptSegment{
		{Text: "hello world", Start: 0, End: 1, Words: []Word{{Text: "hello", Start: 0, End: 0.5}, {Text: "world", Start: 0.5, End: 1}}},
	}}
	corrected := Transcript{Segments: []TranscriptSegment{
		{Text: "hello big world", Start: 0, End: 1, Words: []Word{{Text: "hello", Start: 0, End: 0.3}, {Text: "big", Start: 0.3, End: 0.6}, {Text: "world", Start: 0.6, End: 1}}},
	}}

	got := mergeCorrected(original, corrected)

	if len(got.Segments[0].Words) != 2 {
		t.Fatalf("expected word array length preserved at 2, got %d", len(got.Segments[0].Words))
	}
	if got.Segments[0].Words[0].Text != "hello" || got.Segments[0].Words[1].Text != "world" {
		t.Fatalf("expected original words kept on mismatch, got %+v", got.Segments[0].Words)
	}
}

func TestMergeCorrectedAppliesTextOnWordCountMismatch(t *testing.T) {
	original := Transcript{Segments: []TranscriptSegment{
		{Text: "a b c", Start: 0, End: 1, Words: []Word{{Text: "a", Start: 0, End: 0.3}, {Text: "b", Start: 0.3, End: 0.6}, {Text: "c", Start: 0.6, End: 1}}},
	}}
	corrected := Transcript{Segments: []TranscriptSegment{
		{Text: "X", Start: 0, End: 1, Words: []Word{{Text: "x", Start: 0, End: 0.5}, {Text: "y", Start: 0.5, End: 1}}},
	}}

	got := mergeCorrected(original, corrected)

	if got.Segments[0].Text != "X" {
		t.Fatalf("expected segment text corrected to %q, got %q", "X", got.Segments[0].Text)
	}
	if len(got.Segments[0].Words) != 3 {
		t.Fatalf("expected words array untouched at length 3, got %d", len(got.Segments[0].Words))
	}
	if got.Segments[0].Words[0].Text != "a" || got.Segments[0].Words[1].Text != "b" || got.Segments[0].Words[2].Text != "c" {
		t.Fatalf("expected original words kept on mismatch, got %+v", got.Segments[0].Words)
	}
}

func TestMergeCorrectedAppliesWordFixAndKeepsTimestamps(t *testing.T) {
	original := Transcript{Segments: []TranscriptSegment{
		{Text: "helo wurld", Start: 0, End: 1, Words: []Word{{Text: "helo", Start: 0, End: 0.5}, {Text: "wurld", Start: 0.5, End: 1}}},
	}}
	corrected := Transcript{Segments: []TranscriptSegment{
		{Text: "hello world", Start: 99, End: 99, Words: []Word{{Text: "hello", Start: 99, End: 99}, {Text: "world", Start: 99, End: 99}}},
	}}

	got := mergeCorrected(original, corrected)
	seg := got.Segments[0]

	if seg.Words[0].Text != "hello" || seg.Words[1].Text != "world" {
		t.Fatalf("expected corrected word text, got %+v", seg.Words)
	}
	if seg.Words[0].Start != 0 || seg.Words[0].End != 0.5 || seg.Words[1].Start != 0.5 || seg.Words[1].End != 1 {
		t.Fatalf("expected original timestamps preserved, got %+v", seg.Words)
	}
	if seg.Start != 0 || seg.End != 1 {
		t.Fatalf("expected original segment timestamps preserved, got start=%v end=%v", seg.Start, seg.End)
	}
}

func TestMergeCorrectedWithoutWordsUsesSegmentText(t *testing.T) {
	original := Transcript{Segments: []TranscriptSegment{
		{Text: "helo wurld", Start: 0, End: 1},
	}}
	corrected := Transcript{Segments: []TranscriptSegment{
		{Text: "hello world", Start: 50, End: 50},
	}}

	got := mergeCorrected(original, corrected)

	if got.Segments[0].Text != "hello world" {
		t.Fatalf("expected corrected text applied, got %q", got.Segments[0].Text)
	}
	if got.Segments[0].Start != 0 || got.Segments[0].End != 1 {
		t.Fatalf("expected original timestamps preserved, got start=%v end=%v", got.Segments[0].Start, got.Segments[0].End)
	}
}

func TestStripJSONFence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"segments":[]}`, `{"segments":[]}`},
		{"fenced with lang", "```json\n{\"segments\":[]}\n```", `{"segments":[]}`},
		{"fenced no lang", "```\n{\"segments\":[]}\n```", `{"segments":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stripJSONFence(tc.in)
			if got != tc.want {
				t.Fatalf("stripJSONFence(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
