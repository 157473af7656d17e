package service

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/solace/internal/domain"
)

// persona is the fixed instruction block that opens every prompt
const persona = `You are a compassionate and empathetic AI therapist who speaks in a warm, natural, and conversational tone.
Your goal is to make the user feel heard, supported, and understood, not analyzed or lectured.

Focus on:
1. Active Listening & Validation: show genuine understanding of the user's feelings.
2. Emotional Support: express empathy and comfort naturally, like a caring human.
3. Gentle Guidance: offer simple, realistic coping ideas or next steps when helpful.
4. Professional Boundaries: never overstep into diagnosis, medical advice, or therapy substitutes.

Tone and Style:
* Speak like a calm, friendly therapist who is genuine, relatable, and easy to talk to.
* Use everyday language with warmth and compassion (e.g., "That sounds really tough," "It's okay to feel that way").
* Avoid sounding too formal, clinical, or robotic.
* Reflect the user's emotions before giving advice or suggestions.
* Keep responses concise; go longer only when truly necessary to provide clarity or comfort.

Safety Protocol:
* If the user expresses suicidal thoughts or intent, urge immediate professional help or emergency services.
* For serious or ongoing distress, encourage reaching out to a licensed therapist or counselor.
* Never provide medical diagnoses, prescriptions, or definitive treatment plans.

Reference Example Style:
> "That sounds really rough. It makes sense you'd feel that way after trying so hard. Want to tell me a bit more about what's been going on? We can take it one step at a time."`

const (
	closingInstruction = "Respond as a compassionate therapist while following all guidelines above."
	emptySummary       = "No conversation to summarize."
	summaryInstruction = "Please provide a concise summary of the following therapy conversation, highlighting:\n" +
		"1. Main topics discussed\n" +
		"2. User's key concerns\n" +
		"3. Your therapeutic approaches used\n" +
		"4. Any action items or recommendations given\n\n" +
		"Conversation:\n"
)

// formatHistory renders the trailing window of at most n turns as
// "User:"/"Therapist:" lines. n <= 0 renders every turn.
func formatHistory(turns []domain.Turn, n int) string {
	if len(turns) == 0 {
		return "No previous conversation."
	}
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		role := "Therapist"
		if turn.Role == domain.RoleUser {
			role = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, turn.Content))
	}

	return strings.Join(lines, "\n")
}

// buildContext labels each retrieved text "Example i" and collects the
// source of every hit, duplicates included.
func buildContext(docs []domain.RetrievedDocument) (string, []string) {
	if len(docs) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(docs))
	sources := make([]string, 0, len(docs))
	for i, doc := range docs {
		parts = append(parts, fmt.Sprintf("Example %d:\n%s", i+1, doc.Text))
		sources = append(sources, doc.Source())
	}

	return strings.Join(parts, "\n\n"), sources
}

// buildPrompt assembles persona, retrieved context, the history window and
// the new user message.
func buildPrompt(examples string, history []domain.Turn, window int, message string) string {
	var b strings.Builder
	b.WriteString(persona)

	if examples != "" {
		b.WriteString("\n")
		b.WriteString(examples)
	}

	if len(history) > 0 {
		b.WriteString("\n\nConversation History:\n")
		b.WriteString(formatHistory(history, window))
	}

	b.WriteString("\n\n")
	b.WriteString(closingInstruction)
	b.WriteString("\n\nUser: ")
	b.WriteString(message)

	return b.String()
}

func buildSummaryPrompt(history []domain.Turn) string {
	return summaryInstruction + formatHistory(history, 0)
}
