package internal

import (
	"context"
	"time"
)

// LinkResolver turns a TeraBox share link into a direct download link.
// The boolean result is false when every resolver endpoint was tried and
// none produced a usable link; that is an expected miss, not an error.
type LinkResolver interface {
	Resolve(ctx context.Context, shareURL string) (*ResolvedLink, bool, error)
}

// DownloadManager is a backend capable of running one transfer at a time
// per handle. Submit starts a transfer and returns an opaque handle used
// for subsequent Poll and Cancel calls.
type DownloadManager interface {
	Submit(ctx context.Context, directURL string, job *DownloadJob) (handle string, err error)
	Poll(ctx context.Context, handle string) (*TransferStatus, error)
	Cancel(ctx context.Context, handle string) error
}

// UserStore persists user access records.
type UserStore interface {
	EnsureUser(ctx context.Context, userID int64, firstName string) (*UserAccessRecord, error)
	IsPremium(ctx context.Context, userID int64) (bool, error)
	IsShortlinkVerified(ctx context.Context, userID int64) (bool, error)
	SetPremium(ctx context.Context, userID int64, expiry time.Time) error
	RemovePremium(ctx context.Context, userID int64) error
	SetShortlinkVerified(ctx context.Context, userID int64, expiry time.Time) error
	SetVerifyToken(ctx context.Context, userID int64, token string, link string) error
	GetVerifyToken(ctx context.Context, userID int64) (string, error)
	ClearVerifyToken(ctx context.Context, userID int64) error
	DownloadCount(ctx context.Context, userID int64) (int64, error)
	IncrementDownloads(ctx context.Context, userID int64) error
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}

// ProgressFunc receives throttled transfer snapshots during a fetch.
type ProgressFunc func(status *TransferStatus)
