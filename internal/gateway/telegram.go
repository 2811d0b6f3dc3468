package gateway

import (
	"context"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kiranatap/kirana/internal/order"
)

// TelegramGateway runs the ordering conversation over Telegram. Each chat is
// its own identity: a bare "yes" confirms that chat's most recent pending
// order, and lifecycle events go back to the chat that created the order.
type TelegramGateway struct {
	Bot *tgbotapi.BotAPI
	Svc *Service

	mu         sync.Mutex
	chatOrders map[int64][]string // orders created per chat, oldest first
	orderChats map[string]int64   // owning chat per order
}

func NewTelegramGateway(token string, svc *Service) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:        bot,
		Svc:        svc,
		chatOrders: make(map[int64][]string),
		orderChats: make(map[string]int64),
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)

		reply := tg.handle(context.Background(), update.Message.Chat.ID, update.Message.Text)
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
		if _, err := tg.Bot.Send(msg); err != nil {
			log.Printf("telegram send failed: %v", err)
		}
	}
	return nil
}

func (tg *TelegramGateway) handle(ctx context.Context, chatID int64, text string) string {
	if IsConfirmation(text) {
		reply, err := tg.Svc.ConfirmLatest(ctx, tg.ordersFor(chatID))
		if err != nil {
			log.Printf("telegram confirm failed: %v", err)
			return "I couldn't start that order: " + err.Error()
		}
		return reply
	}

	ord, reply, err := tg.Svc.ParseOrder(ctx, text)
	if err != nil {
		log.Printf("telegram parse failed: %v", err)
		return "I'm having trouble understanding that right now, please try again."
	}
	if ord != nil {
		tg.bind(chatID, ord.ID)
	}
	return reply
}

func (tg *TelegramGateway) bind(chatID int64, orderID string) {
	tg.mu.Lock()
	tg.chatOrders[chatID] = append(tg.chatOrders[chatID], orderID)
	tg.orderChats[orderID] = chatID
	tg.mu.Unlock()
}

func (tg *TelegramGateway) ordersFor(chatID int64) []string {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]string(nil), tg.chatOrders[chatID]...)
}

// Push delivers an order lifecycle event to the chat that created the order.
// Orders created over other gateways are not this gateway's to announce.
func (tg *TelegramGateway) Push(orderID string, status order.Status, message string) {
	tg.mu.Lock()
	chatID, ok := tg.orderChats[orderID]
	tg.mu.Unlock()
	if !ok {
		return
	}

	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = "Markdown"
	if _, err := tg.Bot.Send(msg); err != nil {
		log.Printf("telegram push for order %s failed: %v", orderID, err)
	}
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
