package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// UI prints job state either as colored text or as JSON.
type UI struct {
	out      io.Writer
	jsonMode bool
	noColor  bool
	bar      *progressbar.ProgressBar
}

// NewUI creates a new UI instance.
func NewUI(out io.Writer, jsonMode, noColor bool) *UI {
	return &UI{out: out, jsonMode: jsonMode, noColor: noColor}
}

func (ui *UI) paint(attr color.Attribute, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	if ui.noColor {
		return s
	}
	return color.New(attr).Sprint(s)
}

// Progress renders job progress on a bar. JSON mode skips it.
func (ui *UI) Progress(job *domain.Job) {
	if ui.jsonMode {
		return
	}
	if ui.bar == nil {
		ui.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	ui.bar.Describe(string(job.Stage))
	_ = ui.bar.Set(job.Progress)
}

// Done stops the progress bar.
func (ui *UI) Done() {
	if ui.bar != nil {
		_ = ui.bar.Exit()
		ui.bar = nil
	}
}

// Job prints a job snapshot.
func (ui *UI) Job(job *domain.Job) {
	if ui.jsonMode {
		ui.JSON(job)
		return
	}

	status := string(job.Status)
	switch job.Status {
	case domain.JobStatusCompleted:
		status = ui.paint(color.FgGreen, "%s", status)
	case domain.JobStatusFailed:
		status = ui.paint(color.FgRed, "%s", status)
	case domain.JobStatusProcessing:
		status = ui.paint(color.FgYellow, "%s", status)
	}

	id := job.ID
	if id == "" {
		id = "-"
	}
	fmt.Fprintf(ui.out, "Job:      %s\n", id)
	fmt.Fprintf(ui.out, "Lesson:   %d\n", job.LessonID)
	fmt.Fprintf(ui.out, "Status:   %s\n", status)
	fmt.Fprintf(ui.out, "Stage:    %s\n", job.Stage)
	fmt.Fprintf(ui.out, "Progress: %d%%\n", job.Progress)

	keys := make([]string, 0, len(job.Metadata))
	for k := range job.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(ui.out, "  %-15s %d\n", k+":", job.Metadata[k])
	}
	if job.Error != "" {
		fmt.Fprintf(ui.out, "Error:    %s\n", ui.paint(color.FgRed, "%s", job.Error))
	}
}

// Topics prints a short outline of persisted topics.
func (ui *UI) Topics(topics []domain.TopicRecord) {
	if ui.jsonMode {
		ui.JSON(topics)
		return
	}
	for _, t := range topics {
		title := t.Topic
		if t.Subtopic != "" {
			title += " / " + t.Subtopic
		}
		fmt.Fprintf(ui.out, "%s %s (%d segments)\n", ui.paint(color.FgCyan, "%2d.", t.Order), title, len(t.Segments))
	}
}

// JSON writes v as indented JSON.
func (ui *UI) JSON(v any) {
	enc := json.NewEncoder(ui.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
