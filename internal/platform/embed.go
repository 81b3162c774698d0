package platform

import (
	"fmt"
	"strconv"
	"time"
)

// Embed colors used by the builders below.
const (
	ColorSuccess = 0x00ff00
	ColorFail    = 0xff0000
)

// EmbedField is a single name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is the rich message body the transport renders.
type Embed struct {
	Timestamp   time.Time    `json:"timestamp"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Color       int          `json:"color"`
}

// JoinEmbed describes a guild the bot just joined, for the audit log.
func JoinEmbed(j GuildJoin) Embed {
	return Embed{
		Title: "Guild joined",
		Color: ColorSuccess,
		Fields: []EmbedField{
			{Name: "Name", Value: j.Name, Inline: true},
			{Name: "Guild ID", Value: strconv.FormatUint(j.GuildID, 10), Inline: true},
		},
		Timestamp: j.JoinedAt,
	}
}

// LeaveEmbed names a departed guild by id. Nothing else is known after a leave.
func LeaveEmbed(guildID uint64, at time.Time) Embed {
	return Embed{
		Title: "Guild left",
		Color: ColorFail,
		Fields: []EmbedField{
			{Name: "Guild ID", Value: strconv.FormatUint(guildID, 10), Inline: true},
		},
		Timestamp: at,
	}
}

// FailEmbed is the standard user-facing failure reply.
func FailEmbed(author User, reason string, at time.Time) Embed {
	return Embed{
		Title:       "Critical error:",
		Description: reason,
		Color:       ColorFail,
		Fields: []EmbedField{
			{Name: "Requested by", Value: fmt.Sprintf("%s [%d]", author.Tag, author.ID)},
		},
		Timestamp: at,
	}
}
