package discord

import (
	"context"
	"fmt"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

const (
	colorWinner  = 0xFFD700
	colorPending = 0x5865F2
)

// embedSender is the part of a discord session used to post announcements
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts raffle round results to a discord channel
type Announcer struct {
	sender    embedSender
	channelID string
}

// NewAnnouncer creates an announcer backed by a bot session. Only the REST
// API is used so the gateway connection is never opened.
func NewAnnouncer(token, channelID string) (*Announcer, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	return newAnnouncer(session, channelID), nil
}

func newAnnouncer(sender embedSender, channelID string) *Announcer {
	return &Announcer{sender: sender, channelID: channelID}
}

// Subscribe registers the announcer on the local event bus
func (a *Announcer) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventTypeRequestedRaffleWinner, a.handle)
	bus.Subscribe(events.EventTypeWinnerPicked, a.handle)
	log.WithField("channelID", a.channelID).Info("Discord announcer subscribed to raffle events")
}

func (a *Announcer) handle(ctx context.Context, event events.Event) {
	var embed *discordgo.MessageEmbed
	switch e := event.(type) {
	case events.WinnerPickedEvent:
		embed = BuildWinnerEmbed(e)
	case events.RequestedRaffleWinnerEvent:
		embed = BuildDrawingEmbed(e)
	default:
		return
	}

	if _, err := a.sender.ChannelMessageSendEmbed(a.channelID, embed); err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"channelID": a.channelID,
			"error":     err,
		}).Error("Failed to post raffle announcement")
	}
}

// BuildWinnerEmbed creates the embed announcing a paid-out round
func BuildWinnerEmbed(e events.WinnerPickedEvent) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🎉 Raffle #%d Round %d Winner 🎉", e.RaffleID, e.RoundNumber),
		Description: fmt.Sprintf("**%s** won **%s**", e.Winner.Hex(), entities.FormatWei(e.Amount)),
		Color:       colorWinner,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Players", Value: fmt.Sprintf("%d", e.PlayerCount), Inline: true},
			{Name: "Request", Value: fmt.Sprintf("%d", e.RequestID), Inline: true},
		},
	}
}

// BuildDrawingEmbed creates the embed shown while the winner is being drawn
func BuildDrawingEmbed(e events.RequestedRaffleWinnerEvent) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🎲 Raffle #%d Round %d Closed", e.RaffleID, e.RoundNumber),
		Description: "Entries are locked while the winner is drawn.",
		Color:       colorPending,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Randomness request %d", e.RequestID)},
	}
}
