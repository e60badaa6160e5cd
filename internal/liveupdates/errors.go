package liveupdates

import (
	"errors"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/message"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
)

// isNotFound reports whether err is one of the repository not-found sentinels.
func isNotFound(err error) bool {
	return errors.Is(err, conversation.ErrNotFound) ||
		errors.Is(err, message.ErrNotFound) ||
		errors.Is(err, message.ErrConversationNotFound) ||
		errors.Is(err, user.ErrNotFound)
}
