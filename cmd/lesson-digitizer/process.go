package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/lesson-digitizer/internal/app"
	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/pdf"
)

func newProcessCmd() *cobra.Command {
	var (
		lessonID int64
		title    string
		bookID   int64
		poll     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "process <file.pdf>",
		Short: "Digitize a local PDF with the configured stores and providers",
		Long: `Uploads the PDF into blob storage, attaches it to a lesson (a new one
unless --lesson is given) and runs the full pipeline in this process,
showing stage progress until the job finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read pdf: %w", err)
			}
			if err := pdf.NewValidator().ValidatePDFBytes(data); err != nil {
				return err
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
				defer cancel()
				_ = a.Close(shutdownCtx)
			}()

			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			lesson, err := attachPDF(ctx, a, lessonID, bookID, title, data)
			if err != nil {
				return err
			}

			task, err := a.Orchestrator.StartProcessing(ctx, lesson.ID)
			if err != nil {
				return err
			}

			ui := NewUI(cmd.OutOrStdout(), outputJSON, noColor)
			job, err := follow(ctx, a.Orchestrator, task.JobID, task.Done(), poll, ui.Progress)
			ui.Done()
			if err != nil {
				return err
			}

			ui.Job(job)
			if job.Status != domain.JobStatusCompleted {
				return fmt.Errorf("job %s failed", job.ID)
			}

			topics, err := a.Stores.Topics.ListTopics(ctx, lesson.ID)
			if err != nil {
				return err
			}
			ui.Topics(topics)
			return nil
		},
	}

	cmd.Flags().Int64Var(&lessonID, "lesson", 0, "existing lesson id to attach the PDF to")
	cmd.Flags().StringVar(&title, "title", "", "title for a new lesson (default: file name)")
	cmd.Flags().Int64Var(&bookID, "book", 0, "book id for a new lesson")
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "progress refresh interval")
	return cmd
}

// attachPDF stores the PDF and points the lesson at it, creating the
// lesson when lessonID is zero.
func attachPDF(ctx context.Context, a *app.App, lessonID, bookID int64, title string, data []byte) (*domain.Lesson, error) {
	if lessonID == 0 {
		lesson := &domain.Lesson{BookID: bookID, Title: title}
		if err := a.Stores.Lessons.CreateLesson(ctx, lesson); err != nil {
			return nil, fmt.Errorf("create lesson: %w", err)
		}
		lessonID = lesson.ID
	}

	key := blob.PDFKey(lessonID)
	url, err := a.Blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("store pdf: %w", err)
	}
	if err := a.Stores.Lessons.UpdateLesson(ctx, lessonID, domain.LessonUpdate{PDFRef: &key, Thumbnail: &url}); err != nil {
		return nil, err
	}
	return a.Stores.Lessons.GetLesson(ctx, lessonID)
}

// statusReader is the part of the orchestrator follow polls.
type statusReader interface {
	Status(ctx context.Context, jobID string) (*domain.Job, error)
}

// follow calls onUpdate whenever the job's progress changes until done is
// closed, and returns the final snapshot.
func follow(ctx context.Context, jobs statusReader, jobID string, done <-chan struct{}, every time.Duration, onUpdate func(*domain.Job)) (*domain.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-done:
			job, err := jobs.Status(context.WithoutCancel(ctx), jobID)
			if err != nil {
				return nil, err
			}
			onUpdate(job)
			return job, nil
		case <-ticker.C:
			job, err := jobs.Status(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if job.Progress != last {
				last = job.Progress
				onUpdate(job)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
