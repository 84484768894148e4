// Package discord builds and delivers webhook messages.
package discord

import (
	"time"

	"fizzbot/internal/markup"
	"fizzbot/internal/stackexchange"
)

// Message is the webhook body. One embed per post.
type Message struct {
	Embeds []Embed `json:"embeds"`
}

type Embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Timestamp   time.Time   `json:"timestamp"`
	Author      EmbedAuthor `json:"author"`
}

type EmbedAuthor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Compose renders one excerpt from site as a single-embed message. Markup in
// the title and body is flattened with highlights kept as **bold**.
func Compose(site string, ex stackexchange.Excerpt) Message {
	return Message{
		Embeds: []Embed{{
			Title:       markup.Sanitize(ex.Title),
			Description: markup.Sanitize(ex.Body),
			URL:         ex.QuestionURL(site),
			Timestamp:   ex.CreatedAt.UTC(),
			Author: EmbedAuthor{
				Name: site,
				URL:  stackexchange.SiteURL(site),
			},
		}},
	}
}
