package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/charforge/internal/observability"
)

const telegramLimit = 4096

const telegramHelp = `Send me a character request, for example "create a fire wizard".
I plan it into phases, break each phase into tasks and reply with the report.`

type TelegramGateway struct {
	Bot       *tgbotapi.BotAPI
	Responder Responder
	Logger    *observability.Logger
}

func NewTelegramGateway(token string, responder Responder, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegramGateway(bot, responder, logger), nil
}

func newTelegramGateway(bot *tgbotapi.BotAPI, responder Responder, logger *observability.Logger) *TelegramGateway {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger.LogGateway("telegram", "", "authorized on account "+bot.Self.UserName)
	return &TelegramGateway{Bot: bot, Responder: responder, Logger: logger}
}

// Start serves incoming messages until ctx is done. Requests are handled one
// at a time, in arrival order.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	defer tg.Bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			tg.handle(ctx, update)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if text == "" {
		return
	}

	user := ""
	if msg.From != nil {
		user = msg.From.UserName
	}
	tg.Logger.LogGateway("telegram", chatID, fmt.Sprintf("[%s] %s", user, text))

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			tg.reply(chatID, telegramHelp)
			return
		}
		if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
			text = args
		} else {
			tg.reply(chatID, telegramHelp)
			return
		}
	}

	tg.reply(chatID, "Working on it...")
	response, err := tg.Responder.Respond(ctx, chatID, text)
	if err != nil {
		tg.Logger.LogError("telegram", err)
		response = "Something went wrong: " + err.Error()
	}
	tg.reply(chatID, response)
}

func (tg *TelegramGateway) reply(chatID, text string) {
	if err := tg.Send(chatID, text); err != nil {
		tg.Logger.LogError("telegram", err)
	}
}

// Send posts text to a chat, split into as many messages as needed.
func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	for _, chunk := range splitMessage(text, telegramLimit) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
