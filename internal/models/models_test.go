package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"chapter_count": 12,
		"title":         "dramatic",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["title"] != "dramatic" {
		t.Errorf("expected title=dramatic, got %v", result["title"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"word_count": 5000, "size": 10}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["size"].(float64) != 10 {
		t.Errorf("expected size=10, got %v", j["size"])
	}
}

func TestJSONBScanNil(t *testing.T) {
	var j JSONB
	if err := j.Scan(nil); err != nil {
		t.Fatalf("scanning nil should not error: %v", err)
	}
	if j != nil {
		t.Errorf("expected nil JSONB, got %v", j)
	}
}

func TestProjectStatusValues(t *testing.T) {
	statuses := []ProjectStatus{
		ProjectStatusUploaded,
		ProjectStatusParsing,
		ProjectStatusParsed,
		ProjectStatusGenerating,
		ProjectStatusCompleted,
		ProjectStatusFailed,
		ProjectStatusArchived,
	}
	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestProjectArchivedIsTerminal(t *testing.T) {
	p := &Project{Status: ProjectStatusArchived}
	if !p.Archived() {
		t.Error("expected archived project to report Archived() = true")
	}

	p.Status = ProjectStatusCompleted
	if p.Archived() {
		t.Error("expected non-archived project to report Archived() = false")
	}
}

func TestCanTransitionChapterForwardOnly(t *testing.T) {
	cases := []struct {
		from, to ChapterStatus
		want     bool
	}{
		{ChapterStatusPending, ChapterStatusConfirmed, true},
		{ChapterStatusConfirmed, ChapterStatusGeneratingPrompts, true},
		{ChapterStatusCompleted, ChapterStatusGeneratingPrompts, false},
		{ChapterStatusGeneratedPrompts, ChapterStatusGeneratingPrompts, false},
		{ChapterStatusGeneratingVideo, ChapterStatusFailed, true},
		{ChapterStatusFailed, ChapterStatusPending, true},
		{ChapterStatusFailed, ChapterStatusConfirmed, false},
		{ChapterStatusPending, ChapterStatusPending, true},
	}

	for _, c := range cases {
		got := CanTransitionChapter(c.from, c.to)
		if got != c.want {
			t.Errorf("CanTransitionChapter(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestParagraphActionParticipates(t *testing.T) {
	participating := []ParagraphAction{ParagraphActionKeep, ParagraphActionEdit}
	for _, a := range participating {
		if !a.Participates() {
			t.Errorf("expected %s to participate", a)
		}
	}

	excluded := []ParagraphAction{ParagraphActionDelete, ParagraphActionIgnore}
	for _, a := range excluded {
		if a.Participates() {
			t.Errorf("expected %s to not participate", a)
		}
	}
}

func TestSentenceReadyForVideo(t *testing.T) {
	img := "images/a.png"
	audio := "audio/a.mp3"

	s := &Sentence{}
	if s.ReadyForVideo() {
		t.Error("empty sentence should not be ready for video")
	}

	s.ImageURL = &img
	if s.ReadyForVideo() {
		t.Error("sentence with only an image should not be ready for video")
	}

	s.AudioURL = &audio
	if !s.ReadyForVideo() {
		t.Error("sentence with both image and audio should be ready for video")
	}
}

func TestProviderDefaultModelFor(t *testing.T) {
	cases := map[Provider]string{
		ProviderDeepSeek:         "deepseek-chat",
		ProviderVolcengine:       "doubao-pro",
		ProviderSiliconflow:      "deepseek-ai/DeepSeek-V3.1-Terminus",
		ProviderOpenAICompatible: "gpt-4o-mini",
		ProviderCustom:           "gpt-4o-mini",
	}
	for provider, want := range cases {
		if got := provider.DefaultModelFor(); got != want {
			t.Errorf("%s.DefaultModelFor() = %q, want %q", provider, got, want)
		}
	}
}

func TestVideoTaskCanResume(t *testing.T) {
	idx := 3
	task := &VideoTask{Status: VideoTaskFailed, CurrentSentenceIndex: &idx}
	if !task.CanResume() {
		t.Error("expected failed task with a checkpoint to be resumable")
	}

	task.Status = VideoTaskPending
	if task.CanResume() {
		t.Error("a pending task should not be resumable")
	}

	noCheckpoint := &VideoTask{Status: VideoTaskFailed}
	if noCheckpoint.CanResume() {
		t.Error("a failed task with no checkpoint should not be resumable")
	}
}

func TestVideoTaskResetForRetryPreservesCheckpoint(t *testing.T) {
	idx := 2
	msg := "boom"
	sentenceID := uuid.New()
	task := &VideoTask{
		Status:               VideoTaskFailed,
		CurrentSentenceIndex: &idx,
		ErrorMessage:         &msg,
		ErrorSentenceID:      &sentenceID,
	}

	task.ResetForRetry()

	if task.Status != VideoTaskPending {
		t.Errorf("expected status pending, got %s", task.Status)
	}
	if task.ErrorMessage != nil {
		t.Errorf("expected error message cleared, got %v", task.ErrorMessage)
	}
	if task.ErrorSentenceID != nil {
		t.Errorf("expected error sentence cleared, got %v", task.ErrorSentenceID)
	}
	if task.CurrentSentenceIndex == nil || *task.CurrentSentenceIndex != idx {
		t.Error("expected current_sentence_index to survive reset")
	}
}

func TestVideoTaskMarkCompleted(t *testing.T) {
	task := &VideoTask{Status: VideoTaskUploading}
	task.MarkCompleted("videos/u1/20260101/abc.mp4", 42)

	if task.Status != VideoTaskCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if task.Progress != 100 {
		t.Errorf("expected progress 100, got %d", task.Progress)
	}
	if task.VideoKey == nil || *task.VideoKey != "videos/u1/20260101/abc.mp4" {
		t.Error("expected video key to be set")
	}
	if task.VideoDuration == nil || *task.VideoDuration != 42 {
		t.Error("expected video duration to be set")
	}
}

func TestVideoTaskMarkFailedPreservesCheckpoint(t *testing.T) {
	idx := 5
	sentenceID := uuid.New()
	task := &VideoTask{Status: VideoTaskSynthesizingVideos, CurrentSentenceIndex: &idx}
	task.MarkFailed("provider timeout", &sentenceID)

	if task.Status != VideoTaskFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
	if task.ErrorMessage == nil || *task.ErrorMessage != "provider timeout" {
		t.Error("expected error message to be set")
	}
	if task.ErrorSentenceID == nil || *task.ErrorSentenceID != sentenceID {
		t.Error("expected error sentence id to be set")
	}
	if task.CurrentSentenceIndex == nil || *task.CurrentSentenceIndex != idx {
		t.Error("expected checkpoint to survive failure")
	}
}

func TestVideoTaskIsActivelyProcessing(t *testing.T) {
	active := []VideoTaskStatus{
		VideoTaskValidating,
		VideoTaskDownloadingMaterials,
		VideoTaskGeneratingSubtitles,
		VideoTaskSynthesizingVideos,
		VideoTaskConcatenating,
		VideoTaskUploading,
	}
	for _, s := range active {
		if !s.IsActivelyProcessing() {
			t.Errorf("expected %s to be actively processing", s)
		}
	}

	inactive := []VideoTaskStatus{VideoTaskPending, VideoTaskCompleted, VideoTaskFailed}
	for _, s := range inactive {
		if s.IsActivelyProcessing() {
			t.Errorf("expected %s to not be actively processing", s)
		}
	}
}

func TestClampProgress(t *testing.T) {
	cases := map[int]int{-10: 0, 0: 0, 50: 50, 100: 100, 150: 100}
	for in, want := range cases {
		if got := ClampProgress(in); got != want {
			t.Errorf("ClampProgress(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestDefaultGenerationSettings(t *testing.T) {
	s := DefaultGenerationSettings()
	if s.Resolution != "1920x1080" {
		t.Errorf("expected default resolution 1920x1080, got %s", s.Resolution)
	}
	if s.FPS != 25 {
		t.Errorf("expected default fps 25, got %d", s.FPS)
	}
	if s.SubtitleStyle.Color != "white" {
		t.Errorf("expected default subtitle color white, got %s", s.SubtitleStyle.Color)
	}
}
