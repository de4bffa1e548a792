package parser

import (
	"testing"

	"github.com/google/uuid"
)

func TestParse_HappyPathTinyChapter(t *testing.T) {
	projectID := uuid.New()
	result := Parse(projectID, "A。B。", DefaultOptions())

	if len(result.Chapters) != 1 {
		t.Fatalf("expected 1 chapter, got %d", len(result.Chapters))
	}
	if len(result.Paragraphs) != 1 {
		t.Fatalf("expected 1 paragraph, got %d", len(result.Paragraphs))
	}
	if len(result.Sentences) != 2 {
		t.Fatalf("expected 2 sentences (A。 and B。), got %d: %+v", len(result.Sentences), result.Sentences)
	}
}

func TestParse_SentenceSplitKeepsLongerSentences(t *testing.T) {
	result := Parse(uuid.New(), "今天天气很好。我们一起出去玩吧！", DefaultOptions())
	if len(result.Sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %+v", len(result.Sentences), result.Sentences)
	}
}

func TestParse_ChapterMarkerSplitsDocument(t *testing.T) {
	text := "第一章 开始\n这是第一章的内容，写得足够长以超过最小章节长度的限制。\n\n第二章 继续\n这是第二章的内容，同样写得足够长以超过最小章节长度的限制。"
	result := Parse(uuid.New(), text, Options{MinChapterLength: 10})

	if len(result.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(result.Chapters))
	}
	if result.Chapters[0].ChapterNumber != 1 || result.Chapters[1].ChapterNumber != 2 {
		t.Fatalf("expected chapter numbers 1,2, got %d,%d", result.Chapters[0].ChapterNumber, result.Chapters[1].ChapterNumber)
	}
	if result.Chapters[0].ProjectID != result.Chapters[1].ProjectID {
		t.Fatalf("expected both chapters to carry the same project id")
	}
}

func TestParse_NoChapterMarkersFallsBackToOneChapter(t *testing.T) {
	result := Parse(uuid.New(), "没有任何章节标记的纯文本内容，写得足够长。", Options{MinChapterLength: 10})
	if len(result.Chapters) != 1 {
		t.Fatalf("expected 1 fallback chapter, got %d", len(result.Chapters))
	}
	if result.Chapters[0].Title != "Untitled" {
		t.Fatalf("expected fallback title Untitled, got %q", result.Chapters[0].Title)
	}
}

func TestParse_CountsAreConsistent(t *testing.T) {
	text := "第一章 开始\n第一句话写得足够长。第二句话也写得足够长。\n\n第二段也足够长，这样才能被保留下来。\n\n第二章 继续\n又一段足够长的内容，用来验证统计。"
	result := Parse(uuid.New(), text, Options{MinChapterLength: 5})

	totalParagraphs := 0
	totalSentences := 0
	for _, c := range result.Chapters {
		totalParagraphs += c.ParagraphCount
		totalSentences += c.SentenceCount
	}
	if totalParagraphs != len(result.Paragraphs) {
		t.Fatalf("sum(chapter.paragraph_count)=%d != len(paragraphs)=%d", totalParagraphs, len(result.Paragraphs))
	}
	if totalSentences != len(result.Sentences) {
		t.Fatalf("sum(chapter.sentence_count)=%d != len(sentences)=%d", totalSentences, len(result.Sentences))
	}

	sentenceSum := 0
	for _, p := range result.Paragraphs {
		sentenceSum += p.SentenceCount
	}
	if sentenceSum != len(result.Sentences) {
		t.Fatalf("sum(paragraph.sentence_count)=%d != len(sentences)=%d", sentenceSum, len(result.Sentences))
	}
}

func TestSplitIntoParagraphs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single line", "hello world", 1},
		{"blank-line separated", "first\nparagraph\n\nsecond paragraph", 2},
		{"trailing blank lines", "only paragraph\n\n\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoParagraphs(tt.in)
			if len(got) != tt.want {
				t.Errorf("splitIntoParagraphs(%q) = %d paragraphs, want %d", tt.in, len(got), tt.want)
			}
		})
	}
}
