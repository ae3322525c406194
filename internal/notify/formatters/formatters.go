// Package formatters renders one notification Message into each chat/email platform's
// idiomatic payload shape, grounded on
// original_source/kirolinter/notifications/notification_manager.py's per-platform formatters.
package formatters

// Severity classifies a notification's urgency, driving each platform's visual treatment.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
)

// Message is the platform-agnostic notification content every formatter renders from.
type Message struct {
	Title    string
	Body     string
	Severity Severity
	Fields   map[string]string
	Link     string
}

var severityEmoji = map[Severity]string{
	SeverityCritical: "🚨",
	SeverityError:    "❌",
	SeverityWarning:  "⚠️",
	SeverityInfo:     "ℹ️",
	SeveritySuccess:  "✅",
}

// hexColor maps severity to the color used by Teams' MessageCard themeColor; discordColor holds
// the same colors as integers for Discord's embed color.
var hexColor = map[Severity]string{
	SeverityCritical: "D92626",
	SeverityError:    "E3554A",
	SeverityWarning:  "E8A33D",
	SeverityInfo:     "3B82F6",
	SeveritySuccess:  "2FB344",
}

var discordColor = map[Severity]int{
	SeverityCritical: 0xD92626,
	SeverityError:    0xE3554A,
	SeverityWarning:  0xE8A33D,
	SeverityInfo:     0x3B82F6,
	SeveritySuccess:  0x2FB344,
}

// Slack renders msg as an incoming-webhook payload using the Block Kit layout.
func Slack(msg Message) map[string]interface{} {
	blocks := []map[string]interface{}{
		{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": severityEmoji[msg.Severity] + " *" + msg.Title + "*\n" + msg.Body,
			},
		},
	}
	if len(msg.Fields) > 0 {
		var fields []map[string]interface{}
		for k, v := range msg.Fields {
			fields = append(fields, map[string]interface{}{
				"type": "mrkdwn",
				"text": "*" + k + "*\n" + v,
			})
		}
		blocks = append(blocks, map[string]interface{}{"type": "section", "fields": fields})
	}
	return map[string]interface{}{"blocks": blocks}
}

// Teams renders msg as a legacy MessageCard payload.
func Teams(msg Message) map[string]interface{} {
	var facts []map[string]string
	for k, v := range msg.Fields {
		facts = append(facts, map[string]string{"name": k, "value": v})
	}
	card := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": hexColor[msg.Severity],
		"summary":    msg.Title,
		"sections": []map[string]interface{}{
			{"activityTitle": msg.Title, "text": msg.Body, "facts": facts},
		},
	}
	if msg.Link != "" {
		card["potentialAction"] = []map[string]interface{}{
			{"@type": "OpenUri", "name": "View", "targets": []map[string]string{{"os": "default", "uri": msg.Link}}},
		}
	}
	return card
}

// Discord renders msg as a webhook embed.
func Discord(msg Message) map[string]interface{} {
	var fields []map[string]interface{}
	for k, v := range msg.Fields {
		fields = append(fields, map[string]interface{}{"name": k, "value": v, "inline": true})
	}
	embed := map[string]interface{}{
		"title":       msg.Title,
		"description": msg.Body,
		"color":       discordColor[msg.Severity],
		"fields":      fields,
	}
	if msg.Link != "" {
		embed["url"] = msg.Link
	}
	return map[string]interface{}{"embeds": []map[string]interface{}{embed}}
}

// EmailSubject prepends a severity tag to msg.Title, e.g. "[CRITICAL] Deploy failed".
func EmailSubject(msg Message) string {
	tag := "INFO"
	switch msg.Severity {
	case SeverityCritical:
		tag = "CRITICAL"
	case SeverityError:
		tag = "ERROR"
	case SeverityWarning:
		tag = "WARNING"
	case SeveritySuccess:
		tag = "SUCCESS"
	}
	return "[" + tag + "] " + msg.Title
}

// EmailBody renders a plain-text email body.
func EmailBody(msg Message) string {
	body := msg.Body
	for k, v := range msg.Fields {
		body += "\n" + k + ": " + v
	}
	if msg.Link != "" {
		body += "\n\n" + msg.Link
	}
	return body
}

// Generic renders msg as a flat JSON-POST payload for arbitrary webhook receivers.
func Generic(msg Message) map[string]interface{} {
	return map[string]interface{}{
		"title":    msg.Title,
		"body":     msg.Body,
		"severity": string(msg.Severity),
		"fields":   msg.Fields,
		"link":     msg.Link,
	}
}
