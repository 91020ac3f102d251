package discord

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	"nationcraft.ai/internal/sim/world"
)

// Poster delivers one webhook message.
type Poster interface {
	Post(ctx context.Context, msg *discordgo.WebhookParams) error
}

type webhookPoster struct {
	s         *discordgo.Session
	id, token string
}

// NewWebhookPoster posts through the webhook at rawURL
// (https://discord.com/api/webhooks/<id>/<token>).
func NewWebhookPoster(rawURL string) (Poster, error) {
	id, token, err := ParseWebhookURL(rawURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &webhookPoster{s: s, id: id, token: token}, nil
}

func (p *webhookPoster) Post(ctx context.Context, msg *discordgo.WebhookParams) error {
	_, err := p.s.WebhookExecute(p.id, p.token, false, msg, discordgo.WithContext(ctx))
	return err
}

func ParseWebhookURL(rawURL string) (id, token string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q: missing id/token", u.Redacted())
}

// Announcer posts nation lifecycle, succession and diplomacy events to a channel.
// Callbacks only enqueue; a full queue drops the message.
type Announcer struct {
	poster   Poster
	username string
	log      *logrus.Entry

	queue   chan *discordgo.WebhookParams
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewAnnouncer(p Poster, username string, log *logrus.Entry) *Announcer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &Announcer{
		poster:   p,
		username: username,
		log:      log.WithField("component", "discord"),
		queue:    make(chan *discordgo.WebhookParams, 64),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *Announcer) loop() {
	defer a.wg.Done()
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := a.poster.Post(ctx, msg)
		cancel()
		if err != nil {
			a.failed.Add(1)
			a.log.WithError(err).Warn("webhook post failed")
		}
	}
}

// Close flushes queued messages.
func (a *Announcer) Close() {
	a.once.Do(func() {
		close(a.queue)
		a.wg.Wait()
	})
}

func (a *Announcer) Dropped() uint64 { return a.dropped.Load() }

func (a *Announcer) enqueue(e *discordgo.MessageEmbed) {
	if e == nil {
		return
	}
	msg := &discordgo.WebhookParams{
		Username:        a.username,
		Embeds:          []*discordgo.MessageEmbed{e},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	select {
	case a.queue <- msg:
	default:
		a.dropped.Add(1)
	}
}

func (a *Announcer) NationCreated(e world.Event)     { a.enqueue(CreatedEmbed(e)) }
func (a *Announcer) NationDestroyed(e world.Event)   { a.enqueue(DestroyedEmbed(e)) }
func (a *Announcer) MembershipChanged(e world.Event) { a.enqueue(SuccessionEmbed(e)) }
func (a *Announcer) DiplomacyChanged(e world.Event)  { a.enqueue(DiplomacyEmbed(e)) }

var (
	_ world.NationLifecycleListener = (*Announcer)(nil)
	_ world.MembershipListener      = (*Announcer)(nil)
	_ world.DiplomacyListener       = (*Announcer)(nil)
)

var footer = &discordgo.MessageEmbedFooter{Text: "nationcraft"}

const (
	colorWar   = 0xB02E26
	colorAlly  = 0x5E7C16
	colorPeace = 0x9D9D97
)

// dyeRGB maps the nation palette to embed colours.
var dyeRGB = [...]int{
	0xF9FFFE, 0xF9801D, 0xC74EBD, 0x3AB3DA, 0xFED83D, 0x80C71F, 0xF38BAA, 0x474F52,
	0x9D9D97, 0x169C9C, 0x8932B8, 0x3C44AA, 0x835432, 0x5E7C16, 0xB02E26, 0x1D1D21,
}

func embedColor(c model.Color) int {
	if !c.Valid() {
		return dyeRGB[0]
	}
	return dyeRGB[c]
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func CreatedEmbed(e world.Event) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Type:   discordgo.EmbedTypeRich,
		Title:  fmt.Sprintf("A new nation rises | `%s`", e.NationName),
		Color:  embedColor(e.Color),
		Footer: footer,
		Fields: []*discordgo.MessageEmbedField{
			field("Founder", fmt.Sprintf("`%s`", e.Requester), true),
			field("Colour", e.Color.String(), true),
		},
	}
}

func DestroyedEmbed(e world.Event) *discordgo.MessageEmbed {
	desc := "Disbanded by its leader."
	if e.Destroyed && e.Op != protocol.OpDisband {
		desc = "Its last member has left."
	}
	return &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       fmt.Sprintf("Nation fallen | `%s`", e.NationName),
		Description: desc,
		Color:       colorPeace,
		Footer:      footer,
	}
}

// SuccessionEmbed reports only automatic leadership changes; other membership churn is not announced.
func SuccessionEmbed(e world.Event) *discordgo.MessageEmbed {
	if e.Promoted == uuid.Nil || e.Destroyed {
		return nil
	}
	return &discordgo.MessageEmbed{
		Type:   discordgo.EmbedTypeRich,
		Title:  fmt.Sprintf("Succession in `%s`", e.NationName),
		Color:  colorPeace,
		Footer: footer,
		Fields: []*discordgo.MessageEmbedField{
			field("New leader", fmt.Sprintf("`%s`", e.Promoted), true),
		},
	}
}

func DiplomacyEmbed(e world.Event) *discordgo.MessageEmbed {
	var title string
	color := colorPeace
	switch e.State {
	case model.AtWar:
		title = fmt.Sprintf("`%s` declares war on `%s`", e.NationName, e.OtherName)
		color = colorWar
	case model.Allied:
		title = fmt.Sprintf("`%s` allies with `%s`", e.NationName, e.OtherName)
		color = colorAlly
	default:
		title = fmt.Sprintf("`%s` is now neutral toward `%s`", e.NationName, e.OtherName)
	}
	return &discordgo.MessageEmbed{
		Type:   discordgo.EmbedTypeRich,
		Title:  title,
		Color:  color,
		Footer: footer,
	}
}
