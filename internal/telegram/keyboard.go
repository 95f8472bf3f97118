package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/router"
	"github.com/user/agentrelay/internal/types"
)

func sessionKeyboard(sessions []*types.Session, action string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(sessions))
	for _, s := range sessions {
		label := s.Emoji + " " + s.Name
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, action+":"+string(s.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func modeKeyboard(session *types.Session) tgbotapi.InlineKeyboardMarkup {
	modes := backend.ModesFor(session.Backend)
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(modes))
	for _, mode := range modes {
		label := mode
		if mode == session.Mode {
			label = "• " + mode
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "mode:"+mode),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func planKeyboard(sessionID types.SessionID) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "plan:"+string(router.PlanApprove)+":"+string(sessionID)),
			tgbotapi.NewInlineKeyboardButtonData("⚡ Approve (no sandbox)", "plan:"+string(router.PlanApproveBypass)+":"+string(sessionID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Request changes", "plan:"+string(router.PlanRequestChanges)+":"+string(sessionID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "plan:"+string(router.PlanAbort)+":"+string(sessionID)),
		),
	)
}
