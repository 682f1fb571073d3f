package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"terabot/internal"
)

// fakeStore is an in-memory UserStore honoring the lazy-expiry contract.
type fakeStore struct {
	records    map[int64]*internal.UserAccessRecord
	increments int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[int64]*internal.UserAccessRecord)}
}

func (s *fakeStore) record(userID int64) *internal.UserAccessRecord {
	r, ok := s.records[userID]
	if !ok {
		r = &internal.UserAccessRecord{ID: userID}
		s.records[userID] = r
	}
	return r
}

func (s *fakeStore) EnsureUser(_ context.Context, userID int64, firstName string) (*internal.UserAccessRecord, error) {
	r := s.record(userID)
	if r.FirstName == "" {
		r.FirstName = firstName
	}
	return r, nil
}

func (s *fakeStore) IsPremium(_ context.Context, userID int64) (bool, error) {
	r := s.record(userID)
	if r.IsPremium && r.PremiumExpiry != nil && time.Now().After(*r.PremiumExpiry) {
		r.IsPremium = false
		r.PremiumExpiry = nil
	}
	return r.IsPremium, nil
}

func (s *fakeStore) IsShortlinkVerified(_ context.Context, userID int64) (bool, error) {
	r := s.record(userID)
	if r.ShortlinkVerified && r.ShortlinkExpiry != nil && time.Now().After(*r.ShortlinkExpiry) {
		r.ShortlinkVerified = false
		r.ShortlinkExpiry = nil
	}
	return r.ShortlinkVerified, nil
}

func (s *fakeStore) SetPremium(_ context.Context, userID int64, expiry time.Time) error {
	r := s.record(userID)
	r.IsPremium = true
	r.PremiumExpiry = &expiry
	return nil
}

func (s *fakeStore) RemovePremium(_ context.Context, userID int64) error {
	r := s.record(userID)
	r.IsPremium = false
	r.PremiumExpiry = nil
	return nil
}

func (s *fakeStore) SetShortlinkVerified(_ context.Context, userID int64, expiry time.Time) error {
	r := s.record(userID)
	now := time.Now()
	r.IsVerified = true
	r.VerifiedTime = &now
	r.ShortlinkVerified = true
	r.ShortlinkExpiry = &expiry
	r.VerifyToken = ""
	r.VerifyLink = ""
	return nil
}

func (s *fakeStore) SetVerifyToken(_ context.Context, userID int64, token, link string) error {
	r := s.record(userID)
	r.VerifyToken = token
	r.VerifyLink = link
	return nil
}

func (s *fakeStore) GetVerifyToken(_ context.Context, userID int64) (string, error) {
	return s.record(userID).VerifyToken, nil
}

func (s *fakeStore) ClearVerifyToken(_ context.Context, userID int64) error {
	r := s.record(userID)
	r.VerifyToken = ""
	r.VerifyLink = ""
	return nil
}

func (s *fakeStore) DownloadCount(_ context.Context, userID int64) (int64, error) {
	return s.record(userID).Downloads, nil
}

func (s *fakeStore) IncrementDownloads(_ context.Context, userID int64) error {
	s.record(userID).Downloads++
	s.increments++
	return nil
}

// fakeMembership answers membership checks from a map keyed by chat ID.
type fakeMembership struct {
	members map[int64]bool
	err     error
}

func (m *fakeMembership) IsMember(_ context.Context, chatID, _ int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.members[chatID], nil
}

// recordingShortener wraps links with a fixed prefix and records calls.
type recordingShortener struct {
	calls int
}

func (s *recordingShortener) Shorten(_ context.Context, longURL string) (string, error) {
	s.calls++
	return "https://short.example/x/" + longURL, nil
}

func testPolicy(store *fakeStore, membership MembershipChecker, shortener Shortener) *Policy {
	return NewPolicy(store, membership, shortener, PolicyConfig{
		AdminIDs:          []int64{999},
		ForceSubIDs:       []int64{-100123},
		FreeDownloadLimit: 2,
		ShortlinkHours:    12,
		BotUsername:       "terabot_bot",
	})
}

func TestPolicy_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("member_with_free_quota_is_allowed", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Allowed {
			t.Errorf("New user within quota should be allowed, got reason %q", decision.Reason)
		}
	})

	t.Run("non_member_is_denied", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: false}}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Allowed {
			t.Error("Non-member should be denied")
		}
		if decision.Reason != internal.DenyNotMember {
			t.Errorf("Reason = %q, want %q", decision.Reason, internal.DenyNotMember)
		}
	})

	t.Run("membership_api_error_fails_open", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{err: errors.New("chat not found")}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Allowed {
			t.Error("Membership API errors should not lock users out")
		}
	})

	t.Run("admin_bypasses_quota", func(t *testing.T) {
		store := newFakeStore()
		store.record(999).Downloads = 100
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 999, "Admin")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Allowed {
			t.Error("Admin should always be allowed")
		}
	})

	t.Run("premium_bypasses_quota", func(t *testing.T) {
		store := newFakeStore()
		store.record(1).Downloads = 100
		future := time.Now().Add(time.Hour)
		store.record(1).IsPremium = true
		store.record(1).PremiumExpiry = &future

		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Allowed {
			t.Error("Premium user should be allowed past the quota")
		}
	})

	t.Run("expired_premium_does_not_grant_access", func(t *testing.T) {
		store := newFakeStore()
		store.record(1).Downloads = 100
		past := time.Now().Add(-time.Hour)
		store.record(1).IsPremium = true
		store.record(1).PremiumExpiry = &past

		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Allowed {
			t.Error("Expired premium should not grant access")
		}
		if store.record(1).IsPremium {
			t.Error("Expired premium flag should be flipped off on read")
		}
	})

	t.Run("shortlink_verified_bypasses_quota", func(t *testing.T) {
		store := newFakeStore()
		store.record(1).Downloads = 100
		future := time.Now().Add(time.Hour)
		store.record(1).ShortlinkVerified = true
		store.record(1).ShortlinkExpiry = &future

		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Allowed {
			t.Error("Shortlink-verified user should be allowed")
		}
	})

	t.Run("exhausted_quota_denies_with_verify_link", func(t *testing.T) {
		store := newFakeStore()
		store.record(1).Downloads = 2 // at the limit
		shortener := &recordingShortener{}
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, shortener)

		decision, err := policy.Evaluate(ctx, 1, "Alice")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Allowed {
			t.Error("User past the quota should be denied")
		}
		if decision.Reason != internal.DenyNeedsVerification {
			t.Errorf("Reason = %q, want %q", decision.Reason, internal.DenyNeedsVerification)
		}
		if decision.VerifyLink == "" {
			t.Error("Denial should carry a verify link")
		}
		if shortener.calls != 1 {
			t.Errorf("Shortener should be called once, got %d", shortener.calls)
		}
		if !strings.Contains(decision.VerifyLink, "t.me/terabot_bot?start=verify_") {
			t.Errorf("Verify link should wrap the deep link, got %q", decision.VerifyLink)
		}
		if store.record(1).VerifyToken == "" {
			t.Error("Token should be persisted for later redemption")
		}
	})
}

func TestPolicy_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("exact_token_grants_verification", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		link, err := policy.MintVerifyLink(ctx, 1)
		if err != nil {
			t.Fatalf("MintVerifyLink failed: %v", err)
		}
		if link == "" {
			t.Fatal("Expected a verify link")
		}

		token := store.record(1).VerifyToken
		if err := policy.Redeem(ctx, 1, token); err != nil {
			t.Fatalf("Redeem failed: %v", err)
		}

		r := store.record(1)
		if !r.ShortlinkVerified {
			t.Error("Redemption should open the shortlink window")
		}
		if !r.IsVerified {
			t.Error("Redemption should set the permanent verified flag alongside the window")
		}
		if r.VerifiedTime == nil {
			t.Error("Redemption should record when the user verified")
		}
		if r.ShortlinkExpiry == nil {
			t.Fatal("Redemption should set an expiry")
		}
		remaining := time.Until(*r.ShortlinkExpiry)
		if remaining < 11*time.Hour || remaining > 13*time.Hour {
			t.Errorf("Expiry should be roughly 12h out, got %v", remaining)
		}
		if r.VerifyToken != "" {
			t.Error("Token should be cleared on redemption")
		}
	})

	t.Run("wrong_token_is_rejected", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		if _, err := policy.MintVerifyLink(ctx, 1); err != nil {
			t.Fatalf("MintVerifyLink failed: %v", err)
		}

		err := policy.Redeem(ctx, 1, "not-the-token")
		if err == nil {
			t.Fatal("Wrong token should be rejected")
		}

		var pipelineErr *internal.PipelineError
		if !errors.As(err, &pipelineErr) || pipelineErr.Type != internal.ErrInvalidToken {
			t.Errorf("Expected InvalidToken error, got %v", err)
		}
		if store.record(1).ShortlinkVerified {
			t.Error("Wrong token must not grant verification")
		}
	})

	t.Run("token_is_single_use", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		if _, err := policy.MintVerifyLink(ctx, 1); err != nil {
			t.Fatalf("MintVerifyLink failed: %v", err)
		}
		token := store.record(1).VerifyToken

		if err := policy.Redeem(ctx, 1, token); err != nil {
			t.Fatalf("First redemption failed: %v", err)
		}
		if err := policy.Redeem(ctx, 1, token); err == nil {
			t.Error("Second redemption of the same token should fail")
		}
	})

	t.Run("no_stored_token_is_rejected", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		if err := policy.Redeem(ctx, 1, "anything"); err == nil {
			t.Error("Redemption without a stored token should fail")
		}
	})
}

func TestPolicy_CountDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("meters_free_users", func(t *testing.T) {
		store := newFakeStore()
		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		if err := policy.CountDownload(ctx, 1); err != nil {
			t.Fatalf("CountDownload failed: %v", err)
		}
		if store.record(1).Downloads != 1 {
			t.Errorf("Downloads = %d, want 1", store.record(1).Downloads)
		}
	})

	t.Run("skips_premium_users", func(t *testing.T) {
		store := newFakeStore()
		future := time.Now().Add(time.Hour)
		store.record(1).IsPremium = true
		store.record(1).PremiumExpiry = &future

		policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

		if err := policy.CountDownload(ctx, 1); err != nil {
			t.Fatalf("CountDownload failed: %v", err)
		}
		if store.record(1).Downloads != 0 {
			t.Errorf("Premium downloads should not be metered, got %d", store.record(1).Downloads)
		}
	})
}

func TestMintToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := MintToken()
		if len(token) != tokenLength {
			t.Fatalf("Token length = %d, want %d", len(token), tokenLength)
		}
		for _, r := range token {
			if !strings.ContainsRune("0123456789abcdef", r) {
				t.Fatalf("Token %q contains unexpected character %q", token, r)
			}
		}
		seen[token] = true
	}
	if len(seen) < 95 {
		t.Errorf("Tokens should be effectively unique, got %d distinct out of 100", len(seen))
	}
}

func TestPolicy_GrantAndRevokePremium(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	policy := testPolicy(store, &fakeMembership{members: map[int64]bool{-100123: true}}, &recordingShortener{})

	expiry, err := policy.GrantPremium(ctx, 1, 30)
	if err != nil {
		t.Fatalf("GrantPremium failed: %v", err)
	}

	days := time.Until(expiry).Hours() / 24
	if days < 29 || days > 31 {
		t.Errorf("Expiry should be roughly 30 days out, got %.1f days", days)
	}

	premium, err := store.IsPremium(ctx, 1)
	if err != nil || !premium {
		t.Errorf("User should be premium after grant (premium=%v err=%v)", premium, err)
	}

	if err := policy.RevokePremium(ctx, 1); err != nil {
		t.Fatalf("RevokePremium failed: %v", err)
	}

	premium, _ = store.IsPremium(ctx, 1)
	if premium {
		t.Error("User should not be premium after revoke")
	}
}
