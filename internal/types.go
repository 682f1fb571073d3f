package internal

import (
	"time"
)

// ResolvedLink is the outcome of resolving a TeraBox share link through a
// resolver endpoint.
type ResolvedLink struct {
	DirectURL    string `json:"direct_url"`
	FileName     string `json:"file_name"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	SizeText     string `json:"size_text,omitempty"`
}

// DownloadJob describes one file transfer handed to a download manager.
type DownloadJob struct {
	OutputDir  string
	FileName   string
	Referer    string
	UserAgent  string
	RateLimit  int64 // bytes per second, 0 means unlimited
	Quiet      bool
}

// TransferState enumerates the lifecycle states a download manager reports.
type TransferState string

const (
	TransferActive   TransferState = "active"
	TransferWaiting  TransferState = "waiting"
	TransferPaused   TransferState = "paused"
	TransferComplete TransferState = "complete"
	TransferError    TransferState = "error"
	TransferRemoved  TransferState = "removed"
)

// TransferStatus is a point-in-time snapshot of a running transfer.
type TransferStatus struct {
	State        TransferState
	Completed    int64
	Total        int64
	Speed        int64 // bytes per second
	ErrorMessage string
}

// Percentage returns transfer completion in [0,100], guarding unknown totals.
func (s *TransferStatus) Percentage() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// ETA returns the estimated remaining transfer time, or zero when the
// speed or total is unknown.
func (s *TransferStatus) ETA() time.Duration {
	if s.Speed <= 0 || s.Total <= 0 || s.Completed >= s.Total {
		return 0
	}
	return time.Duration(float64(s.Total-s.Completed)/float64(s.Speed)) * time.Second
}

// FetchResult is the local artifact set produced by a completed fetch.
type FetchResult struct {
	LocalPath     string
	ThumbnailPath string
	Title         string
	SizeText      string
}

// UserAccessRecord mirrors one document in the users collection.
type UserAccessRecord struct {
	ID                int64      `bson:"_id"`
	FirstName         string     `bson:"first_name,omitempty"`
	IsPremium         bool       `bson:"is_premium"`
	PremiumExpiry     *time.Time `bson:"premium_expiry,omitempty"`
	IsVerified        bool       `bson:"is_verified"`
	ShortlinkVerified bool       `bson:"shortlink_verified"`
	ShortlinkExpiry   *time.Time `bson:"shortlink_expiry,omitempty"`
	VerifyToken       string     `bson:"verify_token,omitempty"`
	VerifiedTime      *time.Time `bson:"verified_time,omitempty"`
	VerifyLink        string     `bson:"link,omitempty"`
	Downloads         int64      `bson:"downloads"`
}

// DenyReason classifies why access was refused.
type DenyReason string

const (
	DenyNone              DenyReason = ""
	DenyNotMember         DenyReason = "not_member"
	DenyNeedsVerification DenyReason = "needs_verification"
)

// AccessDecision is the result of evaluating a user against the access policy.
type AccessDecision struct {
	Allowed    bool
	Reason     DenyReason
	VerifyLink string // set when Reason is DenyNeedsVerification
}
