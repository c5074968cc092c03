package adapter

import (
	"fmt"
	"strings"

	"voice-assistant/backend/internal/constants"
	"voice-assistant/backend/internal/history"
	"voice-assistant/backend/internal/utils"
)

// personaPrompts maps persona names to the "You are ..." description
var personaPrompts = map[string]string{
	constants.PersonaDefault:   "a helpful AI assistant",
	constants.PersonaPirate:    "a friendly pirate who speaks with nautical terms and pirate slang like 'Arrr', 'matey', 'shiver me timbers', and 'yo ho ho'",
	constants.PersonaDeveloper: "a knowledgeable software developer who explains technical concepts clearly and uses programming examples when appropriate",
	constants.PersonaCowboy:    "an old west cowboy who speaks with western slang like 'howdy partner', 'yeehaw', 'varmint', and 'rootin' tootin''",
	constants.PersonaRobot:     "a logical robot who speaks with technical precision, uses binary references, and says 'beep boop' occasionally",
}

// Personas lists the supported persona names
func Personas() []string {
	return []string{
		constants.PersonaDefault,
		constants.PersonaPirate,
		constants.PersonaDeveloper,
		constants.PersonaCowboy,
		constants.PersonaRobot,
	}
}

// NormalizePersona returns name if it is a known persona, default otherwise
func NormalizePersona(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := personaPrompts[name]; ok {
		return name
	}
	return constants.PersonaDefault
}

// PersonaPrompt returns the persona description used in the prompt
func PersonaPrompt(name string) string {
	return personaPrompts[NormalizePersona(name)]
}

// FormatHistory renders turns as role-tagged lines under a header. Only the
// last maxTurns turns are included; maxTurns <= 0 includes none.
func FormatHistory(turns []history.Turn, maxTurns int) string {
	if len(turns) == 0 || maxTurns <= 0 {
		return ""
	}
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation context:\n")
	for _, turn := range turns {
		role := "User"
		if turn.Role == history.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, turn.Content)
	}
	return sb.String()
}

// BuildPrompt renders the full single-turn prompt sent to the model
func BuildPrompt(req Request, maxHistoryTurns int) string {
	lang := utils.ResolveLanguage(req.Language, req.UserMessage)

	var sb strings.Builder
	sb.WriteString(utils.LanguageInstruction(lang))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "You are %s. Please respond directly to the user's current question", PersonaPrompt(req.Persona))
	if req.ExtraContext != "" {
		sb.WriteString(" using the provided web search results")
	}
	sb.WriteString(".\n\n")
	sb.WriteString("IMPORTANT: Always answer the CURRENT user question directly. Do not give generic responses about your capabilities unless specifically asked \"what can you do\".\n\n")

	if req.ExtraContext != "" {
		sb.WriteString("WEB SEARCH RESULTS:\n")
		sb.WriteString(req.ExtraContext)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "User's current question: %q\n\n", req.UserMessage)

	if h := FormatHistory(req.History, maxHistoryTurns); h != "" {
		sb.WriteString(h)
		sb.WriteString("\n")
	}

	if req.ExtraContext != "" {
		sb.WriteString("Please provide a specific, helpful answer to the user's current question based on the web search results. Summarize the key information and cite relevant sources if appropriate.")
	} else {
		sb.WriteString("Please provide a specific, helpful answer to the user's current question.")
	}
	fmt.Fprintf(&sb, " Keep your response under %d characters.", constants.MaxResponseChars)

	return sb.String()
}
