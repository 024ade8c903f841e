package discord

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/models"
)

const (
	colorGreen = 0x2ECC71
	colorRed   = 0xE74C3C
	colorBlue  = 0x3498DB

	maxDescription = 4096
)

// TransitionEmbed renders a transition as a Discord embed.
func TransitionEmbed(t models.Transition) (*discordgo.MessageEmbed, error) {
	switch {
	case t.Kind == models.TransitionPresence && t.Presence != nil:
		return presenceEmbed(t), nil
	case t.Kind == models.TransitionPrice && t.Price != nil:
		return priceEmbed(t), nil
	default:
		return nil, apperr.Validation("render transition", "transition "+t.ID+" has no payload for kind "+string(t.Kind))
	}
}

func presenceEmbed(t models.Transition) *discordgo.MessageEmbed {
	p := t.Presence
	d := p.Details
	status := p.NewStatus.String()

	color := colorBlue
	switch p.NewStatus {
	case models.StatusInGame:
		color = colorGreen
	case models.StatusOffline:
		color = colorRed
	}

	lastOnline := "Recently"
	if p.NewStatus == models.StatusOffline {
		lastOnline = "Unknown"
	}
	banned := "No"
	if d.IsBanned {
		banned = "Yes"
	}
	previous := "None"
	if p.OldStatus != nil {
		previous = p.OldStatus.String()
	}

	embed := &discordgo.MessageEmbed{
		Title: d.Username,
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: status},
			{Name: "Previous Status", Value: previous},
			{Name: "Last Online", Value: lastOnline},
			{Name: "Description", Value: truncate(d.Description, 1024)},
			{Name: "Is Banned", Value: banned},
			{Name: "USER ID", Value: t.EntityID},
			{Name: "DISPLAY NAME", Value: d.DisplayName},
			{Name: "USERNAME", Value: d.Username},
		},
		Timestamp: timestamp(t.DetectedAt),
	}
	if d.AvatarURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: d.AvatarURL}
	}
	return embed
}

func priceEmbed(t models.Transition) *discordgo.MessageEmbed {
	p := t.Price
	name := p.Details.Name
	if name == "" {
		name = "Item " + t.EntityID
	}
	creator := p.Details.CreatorName
	if creator == "" {
		creator = "Unknown"
	}

	color := colorBlue
	change := "n/a"
	previous := "None"
	if p.OldPrice != nil {
		previous = formatPrice(*p.OldPrice)
		delta := p.Delta()
		switch {
		case delta > 0:
			color = colorGreen
		case delta < 0:
			color = colorRed
		}
		change = fmt.Sprintf("%+.0f R$", delta)
		if base := *p.OldPrice; base != 0 {
			change += fmt.Sprintf(" (%+.1f%%)", delta/base*100)
		}
	}

	return &discordgo.MessageEmbed{
		Title: name,
		URL:   "https://www.roblox.com/catalog/" + t.EntityID,
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Current Price", Value: formatPrice(p.NewPrice), Inline: true},
			{Name: "Previous Price", Value: previous, Inline: true},
			{Name: "Change", Value: change, Inline: true},
			{Name: "Creator", Value: creator},
			{Name: "ITEM ID", Value: t.EntityID},
		},
		Timestamp: timestamp(t.DetectedAt),
	}
}

// ChangelogEmbed renders a changelog entry.
func ChangelogEmbed(version, body string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Changelog " + version,
		Description: truncate(body, maxDescription),
		Color:       colorBlue,
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(math.Round(v), 'f', 0, 64) + " R$"
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
