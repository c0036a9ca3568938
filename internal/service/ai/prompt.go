package ai

import "strings"

const defaultToneDirective = "Be empathetic and friendly."

var toneDirectives = map[string]string{
	"joy":     "Be cheerful and encouraging.",
	"sadness": "Be warm, empathetic, and gentle.",
	"anger":   "Stay calm, understanding, and patient.",
	"fear":    "Be reassuring and comforting.",
	"neutral": "Be supportive and kind.",
}

const companionFraming = "You are a compassionate mental wellness companion.\n" +
	"Avoid diagnosing or prescribing medication.\n" +
	"Encourage reflection, self-care, and seeking professional help when necessary."

// ToneDirective maps an emotion label to the style instruction for the reply.
// Unknown labels get the default directive.
func ToneDirective(emotion string) string {
	if directive, ok := toneDirectives[emotion]; ok {
		return directive
	}
	return defaultToneDirective
}

// Compose renders the generation prompt from the detected emotion, the context
// window lines (oldest first) and the current user text.
func Compose(emotion string, lines []string, userText string) string {
	var b strings.Builder
	b.WriteString(companionFraming)
	b.WriteString("\n")
	b.WriteString(ToneDirective(emotion))
	b.WriteString("\n\nRecent conversation:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nUser (")
	b.WriteString(emotion)
	b.WriteString("): ")
	b.WriteString(userText)
	return b.String()
}
