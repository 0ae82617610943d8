package ai

import "strings"

// systemPreamble is prepended to every room prompt sent on the primary path.
const systemPreamble = "You are participating in a casual chat room. " +
	"Respond naturally to the most recent message in the conversation. " +
	"Speak in the same language as the user (Portuguese if they use Portuguese). " +
	"Never start with phrases like 'Based on our conversation history'. " +
	"Never mention analyzing the conversation. " +
	"Be concise, natural, and conversational. "

// portugueseMarkers is the closed set of function words used to pick the
// fallback prompt language. Matching is whitespace or line bounded.
var portugueseMarkers = []string{
	"como", "está", "olá", "bom dia", "boa tarde", "obrigado", "não", "qual", "para",
}

// extractLatestMessages keeps the tail-most n lines of context that look
// like chat messages, either "name: text" or "[text]", preserving order.
func extractLatestMessages(context string, n int) string {
	if context == "" {
		return ""
	}

	lines := strings.Split(context, "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := lines[i]
		if strings.Contains(line, ": ") ||
			(strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			kept = append(kept, line)
		}
	}

	var sb strings.Builder
	for i := len(kept) - 1; i >= 0; i-- {
		sb.WriteString(kept[i])
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildTranscript converts message lines into the role-tagged form the
// model was tuned on, with a trailing <assistant> to prompt the completion.
func buildTranscript(context string) string {
	var sb strings.Builder
	for _, line := range strings.Split(context, "\n") {
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Bot: "):
			sb.WriteString("<assistant>")
			sb.WriteString(strings.TrimPrefix(line, "Bot: "))
			sb.WriteString("</assistant>\n")
		case strings.Contains(line, ": "):
			name, text, _ := strings.Cut(line, ": ")
			sb.WriteString("<user name=\"")
			sb.WriteString(name)
			sb.WriteString("\">")
			sb.WriteString(text)
			sb.WriteString("</user>\n")
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			sb.WriteString("<system_message>")
			sb.WriteString(line)
			sb.WriteString("</system_message>\n")
		}
	}

	sb.WriteString("<assistant>")
	return sb.String()
}

// isPortuguese reports whether the context contains any Portuguese marker
// word surrounded by whitespace or line boundaries.
func isPortuguese(context string) bool {
	if context == "" {
		return false
	}

	for _, line := range strings.Split(strings.ToLower(context), "\n") {
		padded := " " + strings.Join(strings.Fields(line), " ") + " "
		for _, marker := range portugueseMarkers {
			if strings.Contains(padded, " "+marker+" ") {
				return true
			}
		}
	}
	return false
}

// lastUserLine returns the text of the most recent non-bot user message, or
// a generic opener when the context has none.
func lastUserLine(context string) string {
	lines := strings.Split(context, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if strings.HasPrefix(line, "Bot:") || strings.HasPrefix(line, "[") {
			continue
		}
		if _, text, ok := strings.Cut(line, ": "); ok && text != "" {
			return text
		}
	}
	return "How can I help?"
}

// cleanResponse strips the role markers the model sometimes echoes back and
// un-escapes angle brackets it occasionally emits as literal JSON escapes.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<assistant>")
	s = strings.TrimSuffix(s, "</assistant>")
	s = strings.ReplaceAll(s, "\\u003c", "<")
	s = strings.ReplaceAll(s, "\\u003e", ">")
	return strings.TrimSpace(s)
}
