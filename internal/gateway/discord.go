package gateway

import (
	"context"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/kiranatap/kirana/internal/order"
)

// DiscordGateway mirrors the Telegram conversation flow on Discord: each
// channel is an identity, and lifecycle events return to the channel that
// created the order.
type DiscordGateway struct {
	Session *discordgo.Session
	Svc     *Service

	mu            sync.Mutex
	channelOrders map[string][]string
	orderChannels map[string]string
}

func NewDiscordGateway(token string, svc *Service) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg := &DiscordGateway{
		Session:       session,
		Svc:           svc,
		channelOrders: make(map[string][]string),
		orderChannels: make(map[string]string),
	}
	session.AddHandler(dg.onMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	return dg, nil
}

func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return err
	}
	log.Printf("Discord gateway connected as %s", dg.Session.State.User.Username)
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Content == "" {
		return
	}

	log.Printf("[discord %s] %s", m.Author.Username, m.Content)
	reply := dg.handle(context.Background(), m.ChannelID, m.Content)
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		log.Printf("discord send failed: %v", err)
	}
}

func (dg *DiscordGateway) handle(ctx context.Context, channelID, text string) string {
	if IsConfirmation(text) {
		reply, err := dg.Svc.ConfirmLatest(ctx, dg.ordersFor(channelID))
		if err != nil {
			log.Printf("discord confirm failed: %v", err)
			return "I couldn't start that order: " + err.Error()
		}
		return reply
	}

	ord, reply, err := dg.Svc.ParseOrder(ctx, text)
	if err != nil {
		log.Printf("discord parse failed: %v", err)
		return "I'm having trouble understanding that right now, please try again."
	}
	if ord != nil {
		dg.bind(channelID, ord.ID)
	}
	return reply
}

func (dg *DiscordGateway) bind(channelID, orderID string) {
	dg.mu.Lock()
	dg.channelOrders[channelID] = append(dg.channelOrders[channelID], orderID)
	dg.orderChannels[orderID] = channelID
	dg.mu.Unlock()
}

func (dg *DiscordGateway) ordersFor(channelID string) []string {
	dg.mu.Lock()
	defer dg.mu.Unlock()
	return append([]string(nil), dg.channelOrders[channelID]...)
}

// Push delivers an order lifecycle event to the channel that created it.
func (dg *DiscordGateway) Push(orderID string, status order.Status, message string) {
	dg.mu.Lock()
	channelID, ok := dg.orderChannels[orderID]
	dg.mu.Unlock()
	if !ok {
		return
	}
	if _, err := dg.Session.ChannelMessageSend(channelID, message); err != nil {
		log.Printf("discord push for order %s failed: %v", orderID, err)
	}
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}
