// Package parser is the text-segmentation stand-in for §6.7's externally
// scoped Parser contract: given document text, produce the
// {chapters[], paragraphs[], sentences[]} parallel arrays the rest of the
// pipeline consumes, in traversal order, with sum(chapter.paragraph_count)
// = len(paragraphs) and sum(paragraph.sentence_count) = len(sentences).
//
// Grounded in original_source/backend/src/services/text_parser.py:
// RegexChapterDetector's prioritized chapter-marker patterns and
// TextSplitter's blank-line paragraph split and punctuation sentence split.
package parser

import (
	"regexp"
	"strings"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

// Options configures chapter detection.
type Options struct {
	// MinChapterLength is the minimum content length (runes) a detected
	// chapter must have; shorter chapters are merged into their neighbor
	// rather than left as slivers. Mirrors the spirit of
	// text_parser.py's chapter confidence filtering without importing its
	// scoring — this package makes its own call on marginal matches, which
	// is fair game since §6.7 only binds the output contract.
	MinChapterLength int
}

func DefaultOptions() Options {
	return Options{MinChapterLength: 30}
}

// chapterPattern is one candidate chapter-title marker, checked in
// descending priority — the first pattern that matches a line wins.
type chapterPattern struct {
	name string
	re   *regexp.Regexp
}

var chapterPatterns = []chapterPattern{
	{"chinese_numbered", regexp.MustCompile(`^第[一二三四五六七八九十百千万0-9]+[章节回卷篇]`)},
	{"numbered", regexp.MustCompile(`^(?i)(\d+)\.?\s*(第?[一二三四五六七八九十百千万0-9]*[章节回卷篇]|Chapter\s*\d+|[一二三四五六七八九十百千万]+、)`)},
	{"english", regexp.MustCompile(`(?i)^(Chapter|Part|Section)\s+\d+`)},
	{"simple_numbered", regexp.MustCompile(`^(\d+)、`)},
	{"bracketed", regexp.MustCompile(`^[【(]\s*第?[一二三四五六七八九十百千万0-9]+\s*[章节回卷篇]\s*[】)]`)},
}

var sentenceEnding = regexp.MustCompile(`[。！？.!?]+`)

// Result is the three parallel arrays a parse produces, fully materialized
// as rows ready for db.CreateChapters/CreateParagraphs/CreateSentences —
// ids assigned, counts computed, ordering set.
type Result struct {
	Chapters   []models.Chapter
	Paragraphs []models.Paragraph
	Sentences  []models.Sentence
}

// rawChapter is one detected chapter before row materialization.
type rawChapter struct {
	title   string
	content string
}

// Parse segments text into the chapter/paragraph/sentence hierarchy for
// projectID, assigning fresh ids and traversal-order indices to every row.
func Parse(projectID uuid.UUID, text string, opts Options) Result {
	if opts.MinChapterLength <= 0 {
		opts = DefaultOptions()
	}

	raw := detectChapters(text)
	raw = mergeShortChapters(raw, opts.MinChapterLength)

	var result Result
	for i, rc := range raw {
		chapterID := uuid.New()
		paragraphTexts := splitIntoParagraphs(rc.content)

		chapterWordCount := 0
		sentenceTotal := 0

		for pIdx, pText := range paragraphTexts {
			paragraphID := uuid.New()
			sentences := splitIntoSentences(pText)
			if len(sentences) == 0 {
				continue
			}

			paragraphWordCount := 0
			for sIdx, sText := range sentences {
				paragraphWordCount += wordCount(sText)
				result.Sentences = append(result.Sentences, models.Sentence{
					ID:             uuid.New(),
					ParagraphID:    paragraphID,
					OrderIndex:     sIdx + 1,
					Content:        sText,
					WordCount:      wordCount(sText),
					CharacterCount: runeCount(sText),
					Status:         models.SentenceStatusPending,
				})
			}

			result.Paragraphs = append(result.Paragraphs, models.Paragraph{
				ID:            paragraphID,
				ChapterID:     chapterID,
				OrderIndex:    pIdx + 1,
				Content:       pText,
				WordCount:     paragraphWordCount,
				SentenceCount: len(sentences),
				Action:        models.ParagraphActionKeep,
			})

			chapterWordCount += paragraphWordCount
			sentenceTotal += len(sentences)
		}

		result.Chapters = append(result.Chapters, models.Chapter{
			ID:             chapterID,
			ProjectID:      projectID,
			Title:          rc.title,
			Content:        rc.content,
			ChapterNumber:  i + 1,
			WordCount:      chapterWordCount,
			ParagraphCount: countParagraphsForChapter(result.Paragraphs, chapterID),
			SentenceCount:  sentenceTotal,
			Status:         models.ChapterStatusPending,
			IsConfirmed:    false,
		})
	}

	return result
}

func countParagraphsForChapter(paragraphs []models.Paragraph, chapterID uuid.UUID) int {
	n := 0
	for _, p := range paragraphs {
		if p.ChapterID == chapterID {
			n++
		}
	}
	return n
}

// detectChapters scans text line by line for the first matching pattern in
// chapterPatterns per line, splitting the document at each hit. A document
// with no chapter markers becomes one chapter.
func detectChapters(text string) []rawChapter {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	type breakPoint struct {
		lineIndex int
		title     string
	}
	var breaks []breakPoint

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, p := range chapterPatterns {
			if p.re.MatchString(trimmed) {
				breaks = append(breaks, breakPoint{lineIndex: i, title: trimmed})
				break
			}
		}
	}

	if len(breaks) == 0 {
		return []rawChapter{{title: "Untitled", content: strings.TrimSpace(text)}}
	}

	chapters := make([]rawChapter, 0, len(breaks))
	for i, b := range breaks {
		end := len(lines)
		if i < len(breaks)-1 {
			end = breaks[i+1].lineIndex
		}
		body := strings.TrimSpace(strings.Join(lines[b.lineIndex+1:end], "\n"))
		chapters = append(chapters, rawChapter{title: b.title, content: body})
	}
	return chapters
}

// mergeShortChapters folds any chapter shorter than minLength into the
// previous chapter (or, for a leading short chapter, the following one),
// so a false-positive chapter marker doesn't produce a near-empty chapter.
func mergeShortChapters(chapters []rawChapter, minLength int) []rawChapter {
	if len(chapters) <= 1 {
		return chapters
	}

	merged := make([]rawChapter, 0, len(chapters))
	for _, c := range chapters {
		if len(merged) > 0 && runeCount(c.content) < minLength {
			prev := &merged[len(merged)-1]
			prev.content = strings.TrimSpace(prev.content + "\n" + c.title + "\n" + c.content)
			continue
		}
		merged = append(merged, c)
	}

	if len(merged) > 1 && runeCount(merged[0].content) < minLength {
		merged[1].title = merged[0].title
		merged[1].content = strings.TrimSpace(merged[0].content + "\n" + merged[1].content)
		merged = merged[1:]
	}

	return merged
}

// splitIntoParagraphs joins consecutive non-blank lines (space-separated)
// into one paragraph, breaking at each blank line.
func splitIntoParagraphs(text string) []string {
	if text == "" {
		return nil
	}

	var paragraphs []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		p := strings.TrimSpace(strings.Join(current, " "))
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return paragraphs
}

// splitIntoSentences splits on runs of sentence-ending punctuation,
// keeping every non-empty fragment — including a bare "A。" — since the
// pipeline's own worked example (a one-paragraph chapter "A。B。" yielding
// exactly two sentences) requires no minimum-length discard here, unlike
// text_parser.py's standalone splitter which drops two-rune fragments.
func splitIntoSentences(text string) []string {
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	locs := sentenceEnding.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		end := loc[1]
		s := strings.TrimSpace(text[start:end])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}
	if start < len(text) {
		s := strings.TrimSpace(text[start:])
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}

func wordCount(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !isSpace && !inWord {
			count++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return count
}

func runeCount(s string) int {
	return len([]rune(s))
}
