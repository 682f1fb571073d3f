package access

import (
	"strings"

	"github.com/google/uuid"
)

const tokenLength = 10

// MintToken generates a short verification token. Tokens ride inside
// Telegram deep-link payloads, so they stay short and alphanumeric.
func MintToken() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:tokenLength]
}
