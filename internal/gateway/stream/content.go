package stream

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// HeartbeatPlaceholder replaces heartbeat noise in visible text.
const HeartbeatPlaceholder = "💓"

// heartbeat sentinels, upper-cased; the longest first.
var heartbeatSentinels = []string{"HEARTBEAT_OK", "HEARTBEAT"}

// IsHeartbeat reports whether s carries a heartbeat sentinel, ignoring case.
func IsHeartbeat(s string) bool {
	upper := strings.ToUpper(s)
	for _, sentinel := range heartbeatSentinels {
		if strings.Contains(upper, sentinel) {
			return true
		}
	}
	return false
}

// ReplaceHeartbeat returns the placeholder for heartbeat text and s otherwise.
func ReplaceHeartbeat(s string) string {
	if IsHeartbeat(s) {
		return HeartbeatPlaceholder
	}
	return s
}

// SanitizeText applies heartbeat substitution and strips ANSI escape and
// control sequences.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	return ansi.Strip(ReplaceHeartbeat(s))
}

// Attachment is a non-text content block of a final message.
type Attachment struct {
	Type     string `json:"type"` // "image" or "file"
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Thinking  string         `json:"thinking"`
	MimeType  string         `json:"mimeType"`
	MediaType string         `json:"media_type"`
	Name      string         `json:"name"`
	FileName  string         `json:"fileName"`
	URL       string         `json:"url"`
	Data      string         `json:"data"`
	Source    *contentSource `json:"source"`
}

type contentSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	URL       string `json:"url"`
}

// ExtractContent reads message content in either shape the gateway uses: a
// flat string, or an array of typed blocks. Text blocks are joined with the
// block separator so the result lines up with the streamed text.
func ExtractContent(raw json.RawMessage) (text, thinking string, attachments []Attachment) {
	if len(raw) == 0 {
		return "", "", nil
	}
	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, "", nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		var single contentBlock
		if err := json.Unmarshal(raw, &single); err != nil {
			return "", "", nil
		}
		blocks = []contentBlock{single}
	}

	var texts, thoughts []string
	for _, b := range blocks {
		switch b.Type {
		case "text", "output_text", "":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "thinking", "reasoning":
			if b.Thinking != "" {
				thoughts = append(thoughts, b.Thinking)
			} else if b.Text != "" {
				thoughts = append(thoughts, b.Text)
			}
		case "image", "file":
			attachments = append(attachments, b.attachment())
		}
	}
	return strings.Join(texts, BlockSeparator), strings.Join(thoughts, BlockSeparator), attachments
}

func (b contentBlock) attachment() Attachment {
	a := Attachment{
		Type:     b.Type,
		MimeType: firstNonEmpty(b.MimeType, b.MediaType),
		Name:     firstNonEmpty(b.Name, b.FileName),
		URL:      b.URL,
		Data:     b.Data,
	}
	if b.Source != nil {
		a.MimeType = firstNonEmpty(a.MimeType, b.Source.MediaType)
		a.URL = firstNonEmpty(a.URL, b.Source.URL)
		a.Data = firstNonEmpty(a.Data, b.Source.Data)
	}
	return a
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
