package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"terabot/internal"
	"terabot/utils"
)

// countingReader reports cumulative bytes as the Telegram client consumes
// the upload body.
type countingReader struct {
	r      io.Reader
	read   int64
	onRead func(read int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.onRead != nil {
			c.onRead(c.read)
		}
	}
	return n, err
}

// Uploader sends fetched artifacts to Telegram and mirrors them to the
// configured dump chats.
type Uploader struct {
	sender       Sender
	dumpChatIDs  []int64
	fileOps      *utils.FileOperations
	editInterval time.Duration
}

// NewUploader creates an uploader. dumpChatIDs may be empty.
func NewUploader(sender Sender, dumpChatIDs []int64) *Uploader {
	return &Uploader{
		sender:       sender,
		dumpChatIDs:  dumpChatIDs,
		fileOps:      utils.NewFileOperations(),
		editInterval: 2 * time.Second,
	}
}

// Upload sends the fetched video to chatID, updating the status message as
// bytes leave the machine, then mirrors the sent copy to the dump chats.
// Local files are deleted whether the upload succeeds or not.
func (u *Uploader) Upload(ctx context.Context, chatID int64, statusMsgID int, result *internal.FetchResult, caption string) error {
	defer u.cleanup(result)

	file, err := os.Open(result.LocalPath)
	if err != nil {
		return internal.NewUploadError("could not open artifact for upload", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return internal.NewUploadError("could not stat artifact", err)
	}
	total := info.Size()

	var lastEdit time.Time
	var lastText string
	reader := &countingReader{r: file, onRead: func(read int64) {
		if time.Since(lastEdit) < u.editInterval {
			return
		}
		status := internal.TransferStatus{Completed: read, Total: total}
		text := fmt.Sprintf("⬆️ Uploading %s\n%s %.1f%%",
			result.Title, ProgressBar(status.Percentage()), status.Percentage())
		if text == lastText {
			return
		}
		lastEdit = time.Now()
		lastText = text
		u.editStatus(chatID, statusMsgID, text)
	}}

	video := tgbotapi.NewVideo(chatID, tgbotapi.FileReader{
		Name:   result.Title,
		Reader: reader,
	})
	video.Caption = caption
	video.SupportsStreaming = true
	if result.ThumbnailPath != "" {
		video.Thumb = tgbotapi.FilePath(result.ThumbnailPath)
	}

	sent, err := u.sender.Send(video)
	if err != nil {
		return internal.NewUploadError("video upload failed", err)
	}
	internal.LogInfo("Uploaded %s (%s) to chat %d", result.Title, HumanBytes(total), chatID)

	u.mirror(chatID, sent.MessageID)
	return nil
}

// mirror copies the delivered message into every dump chat. Mirrors are
// best effort: a dead dump channel must not fail the user's download.
func (u *Uploader) mirror(fromChatID int64, messageID int) {
	for _, dumpID := range u.dumpChatIDs {
		if _, err := u.sender.Request(tgbotapi.NewCopyMessage(dumpID, fromChatID, messageID)); err != nil {
			internal.LogWarn("Mirror to chat %d failed: %v", dumpID, err)
		}
	}
}

// cleanup removes the artifact and thumbnail regardless of upload outcome.
func (u *Uploader) cleanup(result *internal.FetchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := u.fileOps.DeleteWithRetry(ctx, result.LocalPath, 3, time.Second); err != nil {
		internal.LogWarn("Failed to remove artifact %s: %v", result.LocalPath, err)
	}
	if err := u.fileOps.DeleteWithRetry(ctx, result.ThumbnailPath, 3, time.Second); err != nil {
		internal.LogWarn("Failed to remove thumbnail %s: %v", result.ThumbnailPath, err)
	}
}

func (u *Uploader) editStatus(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := u.sender.Request(edit); err != nil && !isNotModified(err) {
		internal.LogDebug("Status edit failed: %v", err)
	}
}

// isNotModified reports whether the Telegram API rejected an edit because
// the text did not change. Callers treat that as success.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
