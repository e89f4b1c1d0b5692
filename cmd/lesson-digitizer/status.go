package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

func newStatusCmd() *cobra.Command {
	var (
		server   string
		jobID    string
		lessonID int64
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a job on a running API server",
		Example: `  lesson-digitizer status --job 6f1c...
  lesson-digitizer status --lesson 12 --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (jobID == "") == (lessonID == 0) {
				return errors.New("exactly one of --job or --lesson is required")
			}

			client := newAPIClient(server, nil)
			fetch := func(ctx context.Context) (*domain.Job, error) {
				if jobID != "" {
					return client.Job(ctx, jobID)
				}
				return client.LessonStatus(ctx, lessonID)
			}

			ui := NewUI(cmd.OutOrStdout(), outputJSON, noColor)
			ctx := cmd.Context()
			job, err := fetch(ctx)
			if err != nil {
				return err
			}

			if watch {
				for job.Status == domain.JobStatusProcessing {
					ui.Progress(job)
					select {
					case <-ctx.Done():
						ui.Done()
						return ctx.Err()
					case <-time.After(interval):
					}
					if job, err = fetch(ctx); err != nil {
						ui.Done()
						return err
					}
				}
				ui.Progress(job)
				ui.Done()
			}

			ui.Job(job)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8090", "API server base URL")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().Int64Var(&lessonID, "lesson", 0, "lesson id (shows its latest job)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval for --watch")
	return cmd
}

// apiClient reads job state from the HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *apiClient) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	return c.getJob(ctx, "/api/v1/jobs/"+url.PathEscape(jobID))
}

func (c *apiClient) LessonStatus(ctx context.Context, lessonID int64) (*domain.Job, error) {
	return c.getJob(ctx, fmt.Sprintf("/api/v1/lessons/process?lessonId=%d", lessonID))
}

func (c *apiClient) getJob(ctx context.Context, path string) (*domain.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}

	var job domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
