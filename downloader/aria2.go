package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"terabot/internal"
	"terabot/utils"
)

// Aria2Manager drives an external aria2c daemon over its JSON-RPC
// interface. Each Submit maps to aria2.addUri and returns the GID aria2
// assigns, which then serves as the Poll/Cancel handle.
type Aria2Manager struct {
	rpcURL     string
	secret     string
	httpClient *utils.HTTPClient
	requestID  atomic.Int64
}

// NewAria2Manager creates a manager talking to the given JSON-RPC URL,
// typically http://127.0.0.1:6800/jsonrpc. The secret may be empty when
// the daemon runs without --rpc-secret.
func NewAria2Manager(rpcURL, secret string, httpClient *utils.HTTPClient) *Aria2Manager {
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	return &Aria2Manager{
		rpcURL:     rpcURL,
		secret:     secret,
		httpClient: httpClient,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// tellStatusResult holds the subset of aria2.tellStatus fields we use.
// aria2 encodes all numeric fields as decimal strings.
type tellStatusResult struct {
	Status          string `json:"status"`
	CompletedLength string `json:"completedLength"`
	TotalLength     string `json:"totalLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	ErrorMessage    string `json:"errorMessage"`
}

// call performs one JSON-RPC round trip. The token parameter is prepended
// to params when a secret is configured, per aria2's auth convention.
func (m *Aria2Manager) call(ctx context.Context, method string, params []any, result any) error {
	if m.secret != "" {
		params = append([]any{"token:" + m.secret}, params...)
	}
	payload, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      strconv.FormatInt(m.requestID.Add(1), 10),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	resp, err := m.httpClient.PostJSON(ctx, m.rpcURL, payload)
	if err != nil {
		return internal.NewTransferError(fmt.Sprintf("aria2 %s call failed", method), err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return internal.NewPipelineError(internal.StageTransfer,
			fmt.Sprintf("aria2 %s returned malformed JSON", method), internal.ErrInvalidResponse).WithCause(err)
	}
	if decoded.Error != nil {
		return internal.NewPipelineError(internal.StageTransfer,
			fmt.Sprintf("aria2 %s: %s", method, decoded.Error.Message), internal.ErrTransferFailed).
			WithContext("rpc_code", decoded.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return internal.NewPipelineError(internal.StageTransfer,
				fmt.Sprintf("aria2 %s result has unexpected shape", method), internal.ErrInvalidResponse).WithCause(err)
		}
	}
	return nil
}

// Submit queues a download with aria2.addUri and returns the assigned GID.
func (m *Aria2Manager) Submit(ctx context.Context, directURL string, job *internal.DownloadJob) (string, error) {
	// continue=true lets a retried attempt resume a leftover partial at
	// the same path instead of colliding with it.
	options := map[string]any{
		"out":                       job.FileName,
		"dir":                       job.OutputDir,
		"continue":                  "true",
		"split":                     "5",
		"min-split-size":            "10M",
		"max-connection-per-server": "16",
	}
	var headers []string
	if job.UserAgent != "" {
		headers = append(headers, "User-Agent: "+job.UserAgent)
	}
	if job.Referer != "" {
		headers = append(headers, "Referer: "+job.Referer)
	}
	if len(headers) > 0 {
		options["header"] = headers
	}
	if job.RateLimit > 0 {
		options["max-download-limit"] = strconv.FormatInt(job.RateLimit, 10)
	}

	var gid string
	if err := m.call(ctx, "aria2.addUri", []any{[]string{directURL}, options}, &gid); err != nil {
		return "", err
	}
	internal.LogDebug("aria2 accepted transfer, gid=%s file=%s", gid, job.FileName)
	return gid, nil
}

// Poll reports the current state of the transfer identified by gid.
func (m *Aria2Manager) Poll(ctx context.Context, handle string) (*internal.TransferStatus, error) {
	var raw tellStatusResult
	keys := []string{"status", "completedLength", "totalLength", "downloadSpeed", "errorMessage"}
	if err := m.call(ctx, "aria2.tellStatus", []any{handle, keys}, &raw); err != nil {
		return nil, err
	}

	status := &internal.TransferStatus{
		State:        mapAria2Status(raw.Status),
		Completed:    parseAria2Int(raw.CompletedLength),
		Total:        parseAria2Int(raw.TotalLength),
		Speed:        parseAria2Int(raw.DownloadSpeed),
		ErrorMessage: raw.ErrorMessage,
	}
	return status, nil
}

// Cancel removes the transfer identified by gid. aria2 deletes its control
// file but leaves any partial data on disk for the caller to clean up.
func (m *Aria2Manager) Cancel(ctx context.Context, handle string) error {
	var removed string
	return m.call(ctx, "aria2.remove", []any{handle}, &removed)
}

func mapAria2Status(status string) internal.TransferState {
	switch status {
	case "active":
		return internal.TransferActive
	case "waiting":
		return internal.TransferWaiting
	case "paused":
		return internal.TransferPaused
	case "complete":
		return internal.TransferComplete
	case "removed":
		return internal.TransferRemoved
	default:
		return internal.TransferError
	}
}

func parseAria2Int(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
