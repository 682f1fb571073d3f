// Package access decides whether a user may run downloads and manages the
// shortlink verification flow that unlocks continued use after the free
// quota runs out.
package access

import (
	"context"
	"fmt"
	"time"

	"terabot/internal"
)

// MembershipChecker reports whether a user belongs to a chat. The bot layer
// implements this against the Telegram API.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// PolicyConfig carries the gating parameters.
type PolicyConfig struct {
	AdminIDs          []int64
	ForceSubIDs       []int64
	FreeDownloadLimit int
	ShortlinkHours    int
	BotUsername       string
}

// Policy evaluates users against the access rules.
type Policy struct {
	store      internal.UserStore
	membership MembershipChecker
	shortener  Shortener
	cfg        PolicyConfig
}

// NewPolicy creates a policy evaluator.
func NewPolicy(store internal.UserStore, membership MembershipChecker, shortener Shortener, cfg PolicyConfig) *Policy {
	if shortener == nil {
		shortener = NoopShortener{}
	}
	return &Policy{
		store:      store,
		membership: membership,
		shortener:  shortener,
		cfg:        cfg,
	}
}

// IsAdmin reports whether the user is a configured administrator.
func (p *Policy) IsAdmin(userID int64) bool {
	for _, id := range p.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Evaluate runs the access ladder for a user:
// membership gate, then admin, premium, shortlink verification, free quota.
// A denial for quota reasons carries a fresh verify link.
func (p *Policy) Evaluate(ctx context.Context, userID int64, firstName string) (*internal.AccessDecision, error) {
	if _, err := p.store.EnsureUser(ctx, userID, firstName); err != nil {
		return nil, err
	}

	member, err := p.checkMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return &internal.AccessDecision{Allowed: false, Reason: internal.DenyNotMember}, nil
	}

	if p.IsAdmin(userID) {
		return &internal.AccessDecision{Allowed: true}, nil
	}

	premium, err := p.store.IsPremium(ctx, userID)
	if err != nil {
		return nil, err
	}
	if premium {
		return &internal.AccessDecision{Allowed: true}, nil
	}

	verified, err := p.store.IsShortlinkVerified(ctx, userID)
	if err != nil {
		return nil, err
	}
	if verified {
		return &internal.AccessDecision{Allowed: true}, nil
	}

	count, err := p.store.DownloadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count < int64(p.cfg.FreeDownloadLimit) {
		return &internal.AccessDecision{Allowed: true}, nil
	}

	link, err := p.MintVerifyLink(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &internal.AccessDecision{
		Allowed:    false,
		Reason:     internal.DenyNeedsVerification,
		VerifyLink: link,
	}, nil
}

// checkMembership requires the user to be in every force-sub chat. A
// Telegram API error fails open: gating must not take the bot down when a
// channel is misconfigured.
func (p *Policy) checkMembership(ctx context.Context, userID int64) (bool, error) {
	for _, chatID := range p.cfg.ForceSubIDs {
		member, err := p.membership.IsMember(ctx, chatID, userID)
		if err != nil {
			internal.LogWarn("Membership check for chat %d failed, allowing user %d: %v", chatID, userID, err)
			continue
		}
		if !member {
			return false, nil
		}
	}
	return true, nil
}

// MintVerifyLink generates a token, persists it, and returns the wrapped
// deep link the user must follow to verify.
func (p *Policy) MintVerifyLink(ctx context.Context, userID int64) (string, error) {
	token := MintToken()
	deepLink := fmt.Sprintf("https://t.me/%s?start=verify_%s", p.cfg.BotUsername, token)

	wrapped, err := p.shortener.Shorten(ctx, deepLink)
	if err != nil {
		internal.LogWarn("Shortlink wrap failed for user %d, using bare link: %v", userID, err)
		wrapped = deepLink
	}

	if err := p.store.SetVerifyToken(ctx, userID, token, wrapped); err != nil {
		return "", err
	}

	return wrapped, nil
}

// Redeem consumes a verification token. Only the exact stored token grants
// verification; anything else is rejected.
func (p *Policy) Redeem(ctx context.Context, userID int64, token string) error {
	stored, err := p.store.GetVerifyToken(ctx, userID)
	if err != nil {
		return err
	}

	if stored == "" || stored != token {
		return internal.NewInvalidTokenError(userID)
	}

	expiry := time.Now().Add(time.Duration(p.cfg.ShortlinkHours) * time.Hour)
	if err := p.store.SetShortlinkVerified(ctx, userID, expiry); err != nil {
		return err
	}

	internal.LogInfo("User %d verified until %s", userID, expiry.Format(time.RFC3339))
	return nil
}

// CountDownload records one completed download against the free quota.
// Premium users are not metered.
func (p *Policy) CountDownload(ctx context.Context, userID int64) error {
	premium, err := p.store.IsPremium(ctx, userID)
	if err != nil {
		return err
	}
	if premium {
		return nil
	}
	return p.store.IncrementDownloads(ctx, userID)
}

// GrantPremium gives the user premium for the given number of days.
func (p *Policy) GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error) {
	expiry := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	if err := p.store.SetPremium(ctx, userID, expiry); err != nil {
		return time.Time{}, err
	}
	internal.LogInfo("Granted premium to user %d until %s", userID, expiry.Format(time.RFC3339))
	return expiry, nil
}

// RevokePremium removes the user's premium grant.
func (p *Policy) RevokePremium(ctx context.Context, userID int64) error {
	return p.store.RemovePremium(ctx, userID)
}
