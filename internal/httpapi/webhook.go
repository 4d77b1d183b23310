package httpapi

import (
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// webhook implements POST /webhook: a Telegram update used
// only to link a registered user's messenger chat to their account the
// first time they message the bot. Always returns 200, matching the
// "link/route messages; 200 always" contract — a malformed or unlinkable
// update is not the sender's fault to see.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		writeJSON(w, h.logger, http.StatusOK, nil)
	}()

	var update tgbotapi.Update
	if err := decodeJSON(r, &update); err != nil {
		h.logger.Warn("httpapi: webhook: invalid update payload", "error", err)
		return
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userName := update.Message.From.UserName
	if userName == "" {
		return
	}
	user, err := h.repo.FindUserByName(r.Context(), userName)
	if err != nil {
		h.logger.Warn("httpapi: webhook: lookup user", "user_name", userName, "error", err)
		return
	}
	if user == nil {
		return
	}

	channelID := strconv.FormatInt(update.Message.Chat.ID, 10)
	if user.NotifyChannelID == channelID {
		return
	}
	user.NotifyChannelID = channelID
	if _, err := h.repo.UpsertUser(r.Context(), *user); err != nil {
		h.logger.Warn("httpapi: webhook: link channel", "user_name", userName, "error", err)
	}
}
