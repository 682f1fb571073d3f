package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"terabot/internal"
	"terabot/utils"
)

const (
	// defaultMaxAttempts bounds how many resolve-and-transfer cycles are
	// tried before the fetch is reported as failed.
	defaultMaxAttempts = 3

	// minValidSize is the floor below which a completed file is treated as
	// a resolver decoy rather than real content.
	minValidSize = 1024

	defaultPollInterval     = time.Second
	defaultProgressInterval = 2 * time.Second
)

// Orchestrator runs one fetch end to end: resolve the share link, submit
// the transfer, poll it to completion, validate the artifact, and grab the
// thumbnail. Each attempt re-resolves the link, so a miss or a stale direct
// URL costs one attempt and takes the same exponential backoff as a
// transfer failure.
type Orchestrator struct {
	resolver    internal.LinkResolver
	manager     internal.DownloadManager
	httpClient  *utils.HTTPClient
	fileOps     *utils.FileOperations
	maxAttempts int

	// sleep is replaceable so retry pacing can be tested without waiting.
	sleep            func(ctx context.Context, d time.Duration) error
	pollInterval     time.Duration
	progressInterval time.Duration
}

// NewOrchestrator creates an orchestrator on top of the given resolver and
// download manager. maxAttempts values below one fall back to the default.
func NewOrchestrator(resolver internal.LinkResolver, manager internal.DownloadManager, httpClient *utils.HTTPClient, maxAttempts int) *Orchestrator {
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	return &Orchestrator{
		resolver:         resolver,
		manager:          manager,
		httpClient:       httpClient,
		fileOps:          utils.NewFileOperations(),
		maxAttempts:      maxAttempts,
		sleep:            sleepContext,
		pollInterval:     defaultPollInterval,
		progressInterval: defaultProgressInterval,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch resolves shareURL and downloads the file into job.OutputDir,
// returning the local artifact paths. The resolver is consulted fresh on
// every attempt. The progress callback, when non-nil, receives snapshots at
// most every two seconds plus a final one on completion.
func (o *Orchestrator) Fetch(ctx context.Context, shareURL string, job *internal.DownloadJob, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	if shareURL == "" {
		return nil, internal.NewInvalidURLError(shareURL, "empty share link")
	}

	var lastErr error
	transferred := false
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			internal.LogInfo("Retrying fetch of %s in %v (attempt %d/%d)", shareURL, backoff, attempt+1, o.maxAttempts)
			if err := o.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		link, ok, err := o.resolver.Resolve(ctx, shareURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			internal.LogWarn("Resolution attempt %d/%d failed: %v", attempt+1, o.maxAttempts, err)
			lastErr = err
			continue
		}
		if !ok || link == nil || link.DirectURL == "" {
			internal.LogWarn("Resolver returned no direct link for %s (attempt %d/%d)", shareURL, attempt+1, o.maxAttempts)
			continue
		}

		if job.FileName == "" {
			job.FileName = link.FileName
		}
		job.FileName = o.fileOps.SanitizeFileName(job.FileName)
		if job.FileName == "" {
			job.FileName = "download.bin"
		}
		transferred = true

		localPath, err := o.runAttempt(ctx, link, job, progress)
		if err == nil {
			result := &internal.FetchResult{
				LocalPath: localPath,
				Title:     job.FileName,
				SizeText:  link.SizeText,
			}
			if link.ThumbnailURL != "" {
				result.ThumbnailPath = o.fetchThumbnail(ctx, link.ThumbnailURL, job.OutputDir)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var pipeErr *internal.PipelineError
		if errors.As(err, &pipeErr) && !pipeErr.IsRetryable() {
			return nil, err
		}
		lastErr = err
	}

	if !transferred {
		return nil, internal.NewPipelineError(internal.StageResolve,
			fmt.Sprintf("no usable direct link after %d attempts", o.maxAttempts),
			internal.ErrResolutionFailed).
			WithURL(shareURL).
			WithCause(lastErr)
	}
	return nil, internal.NewTransferError(
		fmt.Sprintf("transfer failed after %d attempts", o.maxAttempts), lastErr)
}

// runAttempt drives a single submit/poll cycle to a validated local file.
func (o *Orchestrator) runAttempt(ctx context.Context, link *internal.ResolvedLink, job *internal.DownloadJob, progress internal.ProgressFunc) (string, error) {
	handle, err := o.manager.Submit(ctx, link.DirectURL, job)
	if err != nil {
		return "", err
	}

	localPath := filepath.Join(job.OutputDir, job.FileName)
	var lastEmit time.Time

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if cancelErr := o.manager.Cancel(context.Background(), handle); cancelErr != nil {
				internal.LogWarn("Failed to cancel transfer %s: %v", handle, cancelErr)
			}
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := o.manager.Poll(ctx, handle)
		if err != nil {
			return "", err
		}

		switch status.State {
		case internal.TransferComplete:
			if progress != nil {
				progress(status)
			}
			if err := o.validateArtifact(ctx, localPath); err != nil {
				return "", err
			}
			return localPath, nil
		case internal.TransferError:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "transfer reported failure"
			}
			return "", internal.NewTransferError(msg, nil)
		case internal.TransferRemoved:
			return "", internal.NewTransferError("transfer was removed", nil)
		default:
			if progress != nil && time.Since(lastEmit) >= o.progressInterval {
				progress(status)
				lastEmit = time.Now()
			}
		}
	}
}

// validateArtifact rejects completed files below the validity floor and
// removes them so a retry starts clean.
func (o *Orchestrator) validateArtifact(ctx context.Context, path string) error {
	size, err := o.fileOps.GetFileSize(path)
	if err != nil {
		return internal.NewTransferError("completed file is missing", err)
	}
	if size < minValidSize {
		if delErr := o.fileOps.DeleteWithRetry(ctx, path, 3, time.Second); delErr != nil {
			internal.LogWarn("Failed to remove undersized file %s: %v", path, delErr)
		}
		return internal.NewFileTooSmallError(path, size)
	}
	return nil
}

// fetchThumbnail downloads the preview image next to the artifact. Failures
// only cost the thumbnail, never the fetch.
func (o *Orchestrator) fetchThumbnail(ctx context.Context, thumbURL, outputDir string) string {
	resp, err := o.httpClient.GetWithContext(ctx, thumbURL, nil)
	if err != nil {
		internal.LogWarn("Thumbnail download failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	path := filepath.Join(outputDir, "thumb.jpg")
	file, err := o.fileOps.CreateFile(path)
	if err != nil {
		internal.LogWarn("Thumbnail file creation failed: %v", err)
		return ""
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		internal.LogWarn("Thumbnail write failed: %v", err)
		return ""
	}
	return path
}
