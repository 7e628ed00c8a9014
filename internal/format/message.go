// Package format turns incidents into chat notifications.
package format

// Kind identifies which notification a Message represents.
type Kind string

const (
	KindNew        Kind = "new"
	KindResolved   Kind = "resolved"
	KindProgressed Kind = "status_change"
	KindMonitoring Kind = "monitoring"
	KindDigest     Kind = "digest"
)

// Field is one labelled value shown on a card.
type Field struct {
	Label string
	Value string
}

// Link is an action button.
type Link struct {
	Text string
	URL  string
}

// Message is the structured notification before it is rendered for a
// particular chat product.
type Message struct {
	Kind     Kind
	Title    string
	Subtitle string
	Fields   []Field
	Body     string
	Links    []Link
}

// Field returns the value of the first field with label.
func (m Message) Field(label string) (string, bool) {
	for _, f := range m.Fields {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

// Card renders the message as a Google Chat cardsV2 payload.
func (m Message) Card(cardID string) map[string]any {
	sections := make([]any, 0, 3)

	if len(m.Fields) > 0 {
		widgets := make([]any, 0, len(m.Fields))
		for _, f := range m.Fields {
			widgets = append(widgets, map[string]any{
				"decoratedText": map[string]any{
					"topLabel": f.Label,
					"text":     f.Value,
				},
			})
		}
		sections = append(sections, map[string]any{"widgets": widgets})
	}

	if m.Body != "" {
		sections = append(sections, map[string]any{
			"widgets": []any{map[string]any{"textParagraph": map[string]any{"text": m.Body}}},
		})
	}

	buttons := make([]any, 0, len(m.Links))
	for _, l := range m.Links {
		if l.URL == "" {
			continue
		}
		buttons = append(buttons, map[string]any{
			"text":    l.Text,
			"onClick": map[string]any{"openLink": map[string]any{"url": l.URL}},
		})
	}
	if len(buttons) > 0 {
		sections = append(sections, map[string]any{
			"widgets": []any{map[string]any{"buttonList": map[string]any{"buttons": buttons}}},
		})
	}

	header := map[string]any{"title": m.Title}
	if m.Subtitle != "" {
		header["subtitle"] = m.Subtitle
	}

	return map[string]any{
		"cardsV2": []any{
			map[string]any{
				"cardId": cardID,
				"card": map[string]any{
					"header":   header,
					"sections": sections,
				},
			},
		},
	}
}
