package services

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// SubtitleRenderer
//
// Turns a corrected transcript into an ordered list of FFmpeg drawtext
// overlay commands: fixed-position, comic-style narration captions rather
// than word-by-word karaoke highlighting. Lines wrap on punctuation and on
// an accumulated-character-count threshold, and any line that still runs
// long is split into two stacked lines sharing one time span.
// ---------------------------------------------------------------------------

const (
	portraitLineChars  = 15
	landscapeLineChars = 18

	portraitBaselineRatio  = 0.70
	landscapeBaselineRatio = 0.85

	lineSpacingFactor = 1.2

	defaultSubtitleFontSize  = 64
	defaultSubtitleFontColor = "white"
)

// subtitlePunctuation is both the forced-line-end signal and the set of
// characters stripped from rendered text.
const subtitlePunctuation = "，。！？；、,.!?;:'\"()[]{}<>"

// RenderStyle carries the per-video styling and resolution SubtitleRenderer
// needs to compute line width and baseline position.
type RenderStyle struct {
	FontSize  int
	FontColor string
	Width     int
	Height    int
}

func (s RenderStyle) lineChars() int {
	if s.Width > s.Height {
		return landscapeLineChars
	}
	return portraitLineChars
}

func (s RenderStyle) baselineY() float64 {
	ratio := portraitBaselineRatio
	if s.Width > s.Height {
		ratio = landscapeBaselineRatio
	}
	return ratio * float64(s.Height)
}

func (s RenderStyle) fontSize() int {
	if s.FontSize > 0 {
		return s.FontSize
	}
	return defaultSubtitleFontSize
}

func (s RenderStyle) boxStyle() string {
	return "box=1:boxcolor=black@0.4:boxborderw=12"
}

// OverlayCommand is one drawtext invocation: a line of text, its active time
// span, and its fixed screen position.
type OverlayCommand struct {
	TextLine string
	Start    float64
	End      float64
	XExpr    string
	YExpr    string
	BoxStyle string
}

// SubtitleRenderer computes drawtext overlay commands from a corrected
// transcript. It holds no state; the same transcript and style always
// produce the same commands.
type SubtitleRenderer struct{}

func NewSubtitleRenderer() *SubtitleRenderer {
	return &SubtitleRenderer{}
}

// Render produces the overlay commands for one sentence's corrected
// transcript.
func (r *SubtitleRenderer) Render(transcript Transcript, style RenderStyle) []OverlayCommand {
	lineChars := style.lineChars()

	var commands []OverlayCommand
	for _, seg := range transcript.Segments {
		if len(seg.Words) > 0 {
			commands = append(commands, renderWordSegment(seg, lineChars, style)...)
		} else {
			commands = append(commands, renderFallbackSegment(seg, lineChars, style)...)
		}
	}
	return commands
}

// wordChunk is one forced-split unit: a run of words ending either because a
// word carried punctuation or because the accumulated clean character count
// exceeded twice the target line width.
type wordChunk struct {
	words []Word
	start float64
	end   float64
}

func buildWordChunks(words []Word, lineChars int) []wordChunk {
	var chunks []wordChunk
	var current []Word
	cleanCount := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, wordChunk{
			words: current,
			start: current[0].Start,
			end:   current[len(current)-1].End,
		})
		current = nil
		cleanCount = 0
	}

	for _, w := range words {
		current = append(current, w)
		cleanCount += cleanRuneCount(w.Text)

		if containsSubtitlePunctuation(w.Text) || cleanCount > 2*lineChars {
			flush()
		}
	}
	flush()

	return chunks
}

func renderWordSegment(seg TranscriptSegment, lineChars int, style RenderStyle) []OverlayCommand {
	var out []OverlayCommand
	for _, chunk := range buildWordChunks(seg.Words, lineChars) {
		out = append(out, renderChunk(chunk.words, chunk.start, chunk.end, lineChars, style)...)
	}
	return out
}

// renderChunk turns one chunk's words into one or two overlay commands,
// splitting into two stacked lines when the joined clean text exceeds
// lineChars.
func renderChunk(words []Word, start, end float64, lineChars int, style RenderStyle) []OverlayCommand {
	text := stripSubtitlePunctuation(joinWords(words))
	if text == "" {
		return nil
	}

	baseline := style.baselineY()
	x := "(w-text_w)/2"
	box := style.boxStyle()

	if len([]rune(text)) <= lineChars {
		return []OverlayCommand{{
			TextLine: text,
			Start:    start,
			End:      end,
			XExpr:    x,
			YExpr:    fmt.Sprintf("%.1f-text_h/2", baseline),
			BoxStyle: box,
		}}
	}

	firstWords, secondWords := splitWordsForTwoLines(words, lineChars)
	line1 := stripSubtitlePunctuation(joinWords(firstWords))
	line2 := stripSubtitlePunctuation(joinWords(secondWords))

	offset := lineSpacingFactor * float64(style.fontSize()) / 2

	var out []OverlayCommand
	if line1 != "" {
		out = append(out, OverlayCommand{
			TextLine: line1,
			Start:    start,
			End:      end,
			XExpr:    x,
			YExpr:    fmt.Sprintf("%.1f-%.1f-text_h/2", baseline, offset),
			BoxStyle: box,
		})
	}
	if line2 != "" {
		out = append(out, OverlayCommand{
			TextLine: line2,
			Start:    start,
			End:      end,
			XExpr:    x,
			YExpr:    fmt.Sprintf("%.1f+%.1f-text_h/2", baseline, offset),
			BoxStyle: box,
		})
	}
	return out
}

// splitWordsForTwoLines greedily fills the first line up to lineChars clean
// characters and puts the remainder on the second line.
func splitWordsForTwoLines(words []Word, lineChars int) ([]Word, []Word) {
	count := 0
	for i, w := range words {
		next := count + cleanRuneCount(w.Text)
		if next > lineChars && i > 0 {
			return words[:i], words[i:]
		}
		count = next
	}
	// everything fit on one side; split in half as a last resort.
	mid := len(words) / 2
	if mid == 0 {
		mid = 1
	}
	return words[:mid], words[mid:]
}

// renderFallbackSegment handles segments with no word-level timing: the
// segment text is split at punctuation boundaries and duration is allocated
// proportionally by clean character count.
func renderFallbackSegment(seg TranscriptSegment, lineChars int, style RenderStyle) []OverlayCommand {
	pieces := splitTextOnPunctuation(seg.Text)
	if len(pieces) == 0 {
		return nil
	}

	totalClean := 0
	cleanLens := make([]int, len(pieces))
	for i, p := range pieces {
		cleanLens[i] = cleanRuneCount(p)
		totalClean += cleanLens[i]
	}
	if totalClean == 0 {
		return nil
	}

	duration := seg.End - seg.Start
	baseline := style.baselineY()
	x := "(w-text_w)/2"
	box := style.boxStyle()

	var out []OverlayCommand
	cursor := seg.Start
	for i, p := range pieces {
		text := stripSubtitlePunctuation(p)
		frac := float64(cleanLens[i]) / float64(totalClean)
		pieceDuration := duration * frac
		start := cursor
		end := cursor + pieceDuration
		cursor = end

		if text == "" {
			continue
		}

		if len([]rune(text)) <= lineChars {
			out = append(out, OverlayCommand{
				TextLine: text,
				Start:    start,
				End:      end,
				XExpr:    x,
				YExpr:    fmt.Sprintf("%.1f-text_h/2", baseline),
				BoxStyle: box,
			})
			continue
		}

		runes := []rune(text)
		mid := len(runes) / 2
		if mid > lineChars {
			mid = lineChars
		}
		offset := lineSpacingFactor * float64(style.fontSize()) / 2
		out = append(out,
			OverlayCommand{
				TextLine: string(runes[:mid]),
				Start:    start,
				End:      end,
				XExpr:    x,
				YExpr:    fmt.Sprintf("%.1f-%.1f-text_h/2", baseline, offset),
				BoxStyle: box,
			},
			OverlayCommand{
				TextLine: string(runes[mid:]),
				Start:    start,
				End:      end,
				XExpr:    x,
				YExpr:    fmt.Sprintf("%.1f+%.1f-text_h/2", baseline, offset),
				BoxStyle: box,
			},
		)
	}

	return out
}

func splitTextOnPunctuation(text string) []string {
	var pieces []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if strings.ContainsRune(subtitlePunctuation, r) {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

func joinWords(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, "")
}

func containsSubtitlePunctuation(s string) bool {
	return strings.ContainsAny(s, subtitlePunctuation)
}

func stripSubtitlePunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(subtitlePunctuation, r) {
			return -1
		}
		return r
	}, s)
}

func cleanRuneCount(s string) int {
	return len([]rune(stripSubtitlePunctuation(s)))
}
