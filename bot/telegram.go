package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"terabot/access"
	"terabot/downloader"
	"terabot/internal"
	"terabot/utils"
)

// Sender is the slice of the Telegram API the pipeline and uploader use.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot owns the Telegram connection and the update loop.
type Bot struct {
	api      *tgbotapi.BotAPI
	pipeline *Pipeline
	cfg      *internal.Config
}

// New authenticates against Telegram and assembles the full pipeline:
// access policy, link resolver, download orchestrator and uploader.
func New(cfg *internal.Config, store internal.UserStore) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate bot: %w", err)
	}
	internal.LogInfo("Authorized as @%s", api.Self.UserName)

	botUsername := cfg.BotUsername
	if botUsername == "" {
		botUsername = api.Self.UserName
	}

	httpClient := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout: time.Duration(cfg.DefaultTimeout) * time.Second,
	})

	var shortener access.Shortener
	if cfg.ShortlinkURL != "" && cfg.ShortlinkAPIKey != "" {
		shortener = access.NewShortlinkClient(cfg.ShortlinkURL, cfg.ShortlinkAPIKey, httpClient)
	}

	policy := access.NewPolicy(store, &membershipChecker{api: api}, shortener, access.PolicyConfig{
		AdminIDs:          cfg.AdminIDs,
		ForceSubIDs:       cfg.ForceSubIDs,
		FreeDownloadLimit: cfg.FreeDownloadLimit,
		ShortlinkHours:    cfg.ShortlinkHours,
		BotUsername:       botUsername,
	})

	resolver := downloader.NewAPIResolver(cfg.ResolverEndpoints,
		time.Duration(cfg.ResolverTimeout)*time.Second, httpClient)

	var manager internal.DownloadManager
	if cfg.Aria2RPCURL != "" {
		internal.LogInfo("Using aria2 backend at %s", cfg.Aria2RPCURL)
		manager = downloader.NewAria2Manager(cfg.Aria2RPCURL, cfg.Aria2Secret, httpClient)
	} else {
		internal.LogInfo("No aria2 daemon configured, using in-process engine")
		manager = downloader.NewLocalEngine(httpClient)
	}
	orchestrator := downloader.NewOrchestrator(resolver, manager, httpClient, cfg.MaxRetries)

	pipeline := NewPipeline(api, policy, resolver, orchestrator, cfg)

	return &Bot{api: api, pipeline: pipeline, cfg: cfg}, nil
}

// Run consumes updates until the context ends. Each message is handled in
// its own goroutine so one slow download never blocks other users.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	internal.LogInfo("Update loop started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.Message != nil:
				go b.pipeline.HandleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				go b.pipeline.HandleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// membershipChecker adapts GetChatMember to the access policy interface.
type membershipChecker struct {
	api *tgbotapi.BotAPI
}

func (m *membershipChecker) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	member, err := m.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: userID,
		},
	})
	if err != nil {
		return false, err
	}
	switch member.Status {
	case "member", "administrator", "creator":
		return true, nil
	default:
		return false, nil
	}
}
