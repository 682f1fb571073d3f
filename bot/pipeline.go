package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"terabot/access"
	"terabot/internal"
	"terabot/utils"
)

// Fetcher turns a share link into a local artifact, resolving it afresh on
// every download attempt.
type Fetcher interface {
	Fetch(ctx context.Context, shareURL string, job *internal.DownloadJob, progress internal.ProgressFunc) (*internal.FetchResult, error)
}

// Pipeline handles incoming messages end to end: command dispatch, access
// gating, link resolution, fetching and upload.
type Pipeline struct {
	sender    Sender
	policy    *access.Policy
	resolver  internal.LinkResolver
	fetcher   Fetcher
	uploader  *Uploader
	validator *utils.URLValidator
	cfg       *internal.Config
}

// NewPipeline assembles a pipeline from its parts.
func NewPipeline(sender Sender, policy *access.Policy, resolver internal.LinkResolver, fetcher Fetcher, cfg *internal.Config) *Pipeline {
	return &Pipeline{
		sender:    sender,
		policy:    policy,
		resolver:  resolver,
		fetcher:   fetcher,
		uploader:  NewUploader(sender, cfg.DumpChatIDs),
		validator: utils.NewURLValidator(),
		cfg:       cfg,
	}
}

// HandleMessage is the entry point for one Telegram message.
func (p *Pipeline) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		p.handleCommand(ctx, msg)
		return
	}

	links := p.validator.ExtractShareLinks(msg.Text)
	if len(links) == 0 {
		if msg.Chat.IsPrivate() {
			p.reply(msg.Chat.ID, "Send me a TeraBox share link and I will fetch the video for you.")
		}
		return
	}

	// Each link is gated and fetched on its own; one link being denied or
	// failing must not block the others in the same message.
	for _, link := range links {
		p.handleLink(ctx, msg.Chat.ID, msg.From.ID, msg.From.FirstName, link)
	}
}

// HandleCallback reacts to inline keyboard presses; currently only the
// Try Again action offered on a failure notice.
func (p *Pipeline) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	if _, err := p.sender.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		internal.LogDebug("Callback ack failed: %v", err)
	}

	shareURL, found := strings.CutPrefix(cq.Data, "retry_")
	if !found || p.validator.ValidateURL(shareURL) != nil {
		return
	}
	p.handleLink(ctx, cq.Message.Chat.ID, cq.From.ID, cq.From.FirstName, shareURL)
}

// handleLink gates one share link and, when allowed, runs the download
// cycle for it. The free quota is consumed at the allow decision, once per
// link, before any transfer starts.
func (p *Pipeline) handleLink(ctx context.Context, chatID, userID int64, firstName, shareURL string) {
	decision, err := p.policy.Evaluate(ctx, userID, firstName)
	if err != nil {
		internal.LogError("Access evaluation failed for user %d: %v", userID, err)
		p.reply(chatID, "Something went wrong while checking your access. Please try again later.")
		return
	}
	if !decision.Allowed {
		p.sendDenial(chatID, decision)
		return
	}

	if err := p.policy.CountDownload(ctx, userID); err != nil {
		internal.LogWarn("Could not record download for user %d: %v", userID, err)
	}

	p.processLink(ctx, chatID, shareURL)
}

// statusMessage tracks the progress message posted for one link, so edits
// can skip unchanged text and the failure notice stays idempotent.
type statusMessage struct {
	chatID    int64
	messageID int
	lastText  string
}

// processLink runs the resolve/fetch/upload cycle for one share link. The
// fetcher owns resolution, re-resolving the link on every attempt, so the
// pipeline only hands over the share URL.
func (p *Pipeline) processLink(ctx context.Context, chatID int64, shareURL string) {
	first := "🔍 Resolving link..."
	sent, err := p.sender.Send(tgbotapi.NewMessage(chatID, first))
	if err != nil {
		internal.LogWarn("Could not send status message to chat %d: %v", chatID, err)
	}
	status := &statusMessage{chatID: chatID, messageID: sent.MessageID, lastText: first}

	job := &internal.DownloadJob{
		OutputDir: filepath.Join(p.cfg.DownloadDir, fmt.Sprintf("%d-%d", chatID, status.messageID)),
		Referer:   "https://www.terabox.com/",
	}
	if len(p.cfg.UserAgentList) > 0 {
		job.UserAgent = p.cfg.UserAgentList[0]
	}

	// The fetcher fills job.FileName once the first resolution lands, and
	// progress only fires after that.
	progress := func(st *internal.TransferStatus) {
		p.editStatus(status, downloadStatusText(job.FileName, st))
	}

	result, err := p.fetcher.Fetch(ctx, shareURL, job, progress)
	if err != nil {
		p.logFailure(err)
		p.failStatus(ctx, status, shareURL, failureReason(err))
		return
	}

	caption := result.Title
	if result.SizeText != "" {
		caption += " • " + result.SizeText
	}
	if err := p.uploader.Upload(ctx, chatID, status.messageID, result, caption); err != nil {
		p.logFailure(err)
		p.failStatus(ctx, status, shareURL,
			"The file downloaded but could not be delivered to Telegram.")
		return
	}

	p.deleteMessage(chatID, status.messageID)
}

// failureReason words the failure notice for the user based on where the
// fetch gave up.
func failureReason(err error) string {
	var pipeErr *internal.PipelineError
	if errors.As(err, &pipeErr) && pipeErr.Type == internal.ErrResolutionFailed {
		return "No download source is available for this link right now. Please try again later."
	}
	return "The download failed after several attempts. The file may be unavailable."
}

func downloadStatusText(fileName string, st *internal.TransferStatus) string {
	if st.State == internal.TransferComplete {
		return fmt.Sprintf("⬇️ Downloaded %s, preparing upload...", fileName)
	}
	return fmt.Sprintf("⬇️ Downloading %s\n%s %.1f%%\n%s/s • ETA %s",
		fileName,
		ProgressBar(st.Percentage()), st.Percentage(),
		HumanBytes(st.Speed), FormatETA(st.ETA()))
}

// sendDenial tells the user why access was refused and what to do next.
func (p *Pipeline) sendDenial(chatID int64, decision *internal.AccessDecision) {
	switch decision.Reason {
	case internal.DenyNotMember:
		p.reply(chatID, "You need to join our channel before using this bot. Join and try again.")
	case internal.DenyNeedsVerification:
		msg := tgbotapi.NewMessage(chatID,
			fmt.Sprintf("You have used your %d free downloads. Complete a quick verification to keep going, or ask an admin about premium.", p.cfg.FreeDownloadLimit))
		if decision.VerifyLink != "" {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL("✅ Verify Now", decision.VerifyLink),
				),
			)
		}
		if _, err := p.sender.Send(msg); err != nil {
			internal.LogWarn("Could not deliver denial to chat %d: %v", chatID, err)
		}
	default:
		p.reply(chatID, "You do not have access to this bot.")
	}
}

// failureTag marks a status message that already carries a failure notice.
const failureTag = "❌ Download Failed"

// failStatus is the failure notice routine. It is idempotent: a status
// message that already shows the failure notice is left alone. The notice
// degrades gracefully: first an edit with recovery buttons, then a plain
// edit, then a fresh message.
func (p *Pipeline) failStatus(ctx context.Context, status *statusMessage, shareURL, reason string) {
	if strings.HasPrefix(status.lastText, failureTag) {
		return
	}
	text := failureTag + "\n\n" + reason
	status.lastText = text

	if status.messageID != 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(status.chatID, status.messageID, text, p.failKeyboard(ctx, shareURL))
		if _, err := p.sender.Request(edit); err == nil || isNotModified(err) {
			return
		}
		plain := tgbotapi.NewEditMessageText(status.chatID, status.messageID, text)
		if _, err := p.sender.Request(plain); err == nil || isNotModified(err) {
			return
		}
	}

	if _, err := p.sender.Send(tgbotapi.NewMessage(status.chatID, text)); err != nil {
		internal.LogWarn("Failure notice could not be delivered to chat %d: %v", status.chatID, err)
	}
}

// failKeyboard builds the recovery actions for a failure notice. One fresh
// resolution attempt decides whether a raw direct-download link can still
// be offered even though the managed pipeline failed.
func (p *Pipeline) failKeyboard(ctx context.Context, shareURL string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	if resolved, ok, err := p.resolver.Resolve(ctx, shareURL); err == nil && ok {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📥 Direct Download", resolved.DirectURL)))
	}

	escaped := url.QueryEscape(shareURL)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("🌐 Watch Online", "https://terabox-watch.netlify.app/?url="+escaped)))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("🌐 Alternative Viewer", "https://terabox-watch.netlify.app/api2.html?url="+escaped)))

	if data := p.retryData(shareURL); data != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Try Again", data)))
	}
	if p.cfg.SupportURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📱 Contact Support", p.cfg.SupportURL)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// retryData builds the Try Again callback payload. Telegram caps callback
// data at 64 bytes, so the share URL is canonicalized to its short form;
// a link that still does not fit gets no retry button.
func (p *Pipeline) retryData(shareURL string) string {
	if info, err := p.validator.ParseURL(shareURL); err == nil {
		shareURL = p.validator.GetShareURL(info)
	}
	data := "retry_" + shareURL
	if len(data) > 64 {
		return ""
	}
	return data
}

func (p *Pipeline) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		payload := msg.CommandArguments()
		if token, found := strings.CutPrefix(payload, "verify_"); found {
			p.handleVerify(ctx, msg, token)
			return
		}
		p.reply(msg.Chat.ID,
			"👋 Hi! Send me a TeraBox share link and I will download the video and send it to you here.")
	case "help":
		p.reply(msg.Chat.ID,
			"Send any TeraBox share link (terabox.com, 1024terabox.com, mirrors) and I will fetch it. "+
				"Free users get a limited number of downloads before a quick verification is required.")
	case "addpremium":
		p.handleAddPremium(ctx, msg)
	case "removepremium":
		p.handleRemovePremium(ctx, msg)
	}
}

func (p *Pipeline) handleVerify(ctx context.Context, msg *tgbotapi.Message, token string) {
	if err := p.policy.Redeem(ctx, msg.From.ID, token); err != nil {
		internal.LogWarn("Verification failed for user %d: %v", msg.From.ID, err)
		p.reply(msg.Chat.ID, "❌ That verification link is invalid or has already been used. Request a fresh one by sending a link.")
		return
	}
	p.reply(msg.Chat.ID,
		fmt.Sprintf("✅ You are verified for the next %d hours. Send a link to start downloading!", p.cfg.ShortlinkHours))
}

func (p *Pipeline) handleAddPremium(ctx context.Context, msg *tgbotapi.Message) {
	if !p.policy.IsAdmin(msg.From.ID) {
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		p.reply(msg.Chat.ID, "Usage: /addpremium <user_id> [days]")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		p.reply(msg.Chat.ID, "Invalid user id: "+args[0])
		return
	}
	days := 30
	if len(args) > 1 {
		if d, err := strconv.Atoi(args[1]); err == nil && d > 0 {
			days = d
		}
	}
	expiry, err := p.policy.GrantPremium(ctx, userID, days)
	if err != nil {
		internal.LogError("Premium grant for user %d failed: %v", userID, err)
		p.reply(msg.Chat.ID, "Could not grant premium, storage error.")
		return
	}
	p.reply(msg.Chat.ID, fmt.Sprintf("⭐ User %d is premium until %s.", userID, expiry.Format("2006-01-02")))
}

func (p *Pipeline) handleRemovePremium(ctx context.Context, msg *tgbotapi.Message) {
	if !p.policy.IsAdmin(msg.From.ID) {
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		p.reply(msg.Chat.ID, "Usage: /removepremium <user_id>")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		p.reply(msg.Chat.ID, "Invalid user id: "+args[0])
		return
	}
	if err := p.policy.RevokePremium(ctx, userID); err != nil {
		internal.LogError("Premium revoke for user %d failed: %v", userID, err)
		p.reply(msg.Chat.ID, "Could not revoke premium, storage error.")
		return
	}
	p.reply(msg.Chat.ID, fmt.Sprintf("User %d is no longer premium.", userID))
}

func (p *Pipeline) reply(chatID int64, text string) {
	if _, err := p.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		internal.LogWarn("Could not send message to chat %d: %v", chatID, err)
	}
}

func (p *Pipeline) editStatus(status *statusMessage, text string) {
	if status.messageID == 0 || text == status.lastText {
		return
	}
	status.lastText = text
	edit := tgbotapi.NewEditMessageText(status.chatID, status.messageID, text)
	if _, err := p.sender.Request(edit); err != nil && !isNotModified(err) {
		internal.LogDebug("Status edit failed: %v", err)
	}
}

func (p *Pipeline) deleteMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := p.sender.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		internal.LogDebug("Status delete failed: %v", err)
	}
}

// logFailure routes typed pipeline errors through the structured logger.
func (p *Pipeline) logFailure(err error) {
	var pipeErr *internal.PipelineError
	if errors.As(err, &pipeErr) {
		internal.LogPipelineError(pipeErr)
		return
	}
	internal.LogError("%v", err)
}
