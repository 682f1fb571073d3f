package downloader

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"terabot/internal"
	"terabot/utils"
)

// transfer tracks one in-flight or finished local download.
type transfer struct {
	mu        sync.Mutex
	status    internal.TransferStatus
	cancel    context.CancelFunc
	partPath  string
	finalPath string
	startTime time.Time
}

func (t *transfer) snapshot() *internal.TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := t.status
	return &copied
}

func (t *transfer) setProgress(completed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Completed = completed
	if elapsed := time.Since(t.startTime).Seconds(); elapsed > 0 {
		t.status.Speed = int64(float64(completed) / elapsed)
	}
}

func (t *transfer) setState(state internal.TransferState, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = state
	t.status.ErrorMessage = errMsg
}

// LocalEngine is an in-process DownloadManager that streams the direct
// link over a single HTTP connection. It serves as the fallback when no
// aria2 daemon is configured and backs the standalone fetch command.
type LocalEngine struct {
	httpClient *utils.HTTPClient
	fileOps    *utils.FileOperations

	mu        sync.Mutex
	transfers map[string]*transfer
}

// NewLocalEngine creates a streaming download engine.
func NewLocalEngine(httpClient *utils.HTTPClient) *LocalEngine {
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	return &LocalEngine{
		httpClient: httpClient,
		fileOps:    utils.NewFileOperations(),
		transfers:  make(map[string]*transfer),
	}
}

// Submit starts streaming directURL into job.OutputDir and returns a
// handle for Poll and Cancel. The transfer runs in a background goroutine
// detached from ctx; use Cancel to stop it.
func (e *LocalEngine) Submit(ctx context.Context, directURL string, job *internal.DownloadJob) (string, error) {
	if job == nil {
		return "", internal.NewTransferError("download job cannot be nil", nil)
	}
	fileName := e.fileOps.SanitizeFileName(job.FileName)
	if fileName == "" {
		fileName = "download.bin"
	}
	finalPath := filepath.Join(job.OutputDir, fileName)
	partPath := finalPath + ".part"

	runCtx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		cancel:    cancel,
		partPath:  partPath,
		finalPath: finalPath,
		startTime: time.Now(),
		status:    internal.TransferStatus{State: internal.TransferWaiting},
	}

	handle := uuid.NewString()
	e.mu.Lock()
	e.transfers[handle] = t
	e.mu.Unlock()

	go e.run(runCtx, t, directURL, job)

	if !job.Quiet {
		internal.LogDebug("Local engine accepted transfer, handle=%s file=%s", handle, fileName)
	}
	return handle, nil
}

// Poll reports the current state of a previously submitted transfer.
func (e *LocalEngine) Poll(_ context.Context, handle string) (*internal.TransferStatus, error) {
	e.mu.Lock()
	t, ok := e.transfers[handle]
	e.mu.Unlock()
	if !ok {
		return nil, internal.NewTransferError("unknown transfer handle "+handle, nil)
	}
	return t.snapshot(), nil
}

// Cancel stops the transfer and removes its partial file. Cancelling a
// finished or unknown transfer is a no-op.
func (e *LocalEngine) Cancel(ctx context.Context, handle string) error {
	e.mu.Lock()
	t, ok := e.transfers[handle]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	t.cancel()
	t.setState(internal.TransferRemoved, "")
	return e.fileOps.DeleteWithRetry(ctx, t.partPath, 3, time.Second)
}

// run performs the streaming copy and records the outcome on the transfer.
func (e *LocalEngine) run(ctx context.Context, t *transfer, directURL string, job *internal.DownloadJob) {
	err := e.stream(ctx, t, directURL, job)
	switch {
	case err == nil:
		t.setState(internal.TransferComplete, "")
	case ctx.Err() != nil:
		// Cancel already set the removed state; leave partial cleanup to it.
	default:
		if !job.Quiet {
			internal.LogWarn("Local transfer failed for %s: %v", t.finalPath, err)
		}
		t.setState(internal.TransferError, err.Error())
	}
}

func (e *LocalEngine) stream(ctx context.Context, t *transfer, directURL string, job *internal.DownloadJob) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return internal.NewTransferError("failed to build request", err)
	}
	if job.UserAgent != "" {
		req.Header.Set("User-Agent", job.UserAgent)
	}
	if job.Referer != "" {
		req.Header.Set("Referer", job.Referer)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return internal.NewTransferError("direct link request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return internal.NewTransferError("direct link returned HTTP "+strconv.Itoa(resp.StatusCode), nil)
	}

	t.mu.Lock()
	t.status.State = internal.TransferActive
	t.status.Total = resp.ContentLength
	t.startTime = time.Now()
	t.mu.Unlock()

	file, err := e.fileOps.CreateFile(t.partPath)
	if err != nil {
		return internal.NewTransferError("failed to create output file", err)
	}
	defer file.Close()

	var limiter internal.RateLimiter
	if job.RateLimit > 0 {
		limiter = utils.NewTokenBucketLimiter(job.RateLimit)
	}

	buffer := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if limiter != nil {
				if err := limiter.Wait(ctx, n); err != nil {
					return err
				}
			}
			wrote, writeErr := file.Write(buffer[:n])
			written += int64(wrote)
			t.setProgress(written)
			if writeErr != nil {
				return internal.NewTransferError("write failed", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return internal.NewTransferError("stream interrupted", readErr)
		}
	}

	if err := file.Close(); err != nil {
		return internal.NewTransferError("close failed", err)
	}
	return e.fileOps.AtomicRename(t.partPath, t.finalPath)
}
