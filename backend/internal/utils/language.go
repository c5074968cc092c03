package utils

import (
	"strings"

	"voice-assistant/backend/internal/constants"
)

// LanguageNames maps language codes to display names
var LanguageNames = map[string]string{
	constants.LanguageCodeEnglish:   "English",
	constants.LanguageCodeHindi:     "Hindi",
	constants.LanguageCodeBilingual: "English and Hindi",
	constants.LanguageCodeAuto:      "Auto-detect",
}

// languageInstructions is prepended to every prompt once the language is resolved
var languageInstructions = map[string]string{
	constants.LanguageCodeEnglish:   "Respond in English only.",
	constants.LanguageCodeHindi:     "Respond in Hindi only.",
	constants.LanguageCodeBilingual: "Provide the answer in BOTH English and Hindi. First provide the English version, then the Hindi translation separated by '---'.",
}

// NormalizeLanguage maps user input (query params, request bodies) onto a
// supported language code. Unknown values become auto.
func NormalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "english":
		return constants.LanguageCodeEnglish
	case "hi", "hindi":
		return constants.LanguageCodeHindi
	case "both", "bilingual":
		return constants.LanguageCodeBilingual
	default:
		return constants.LanguageCodeAuto
	}
}

// ContainsDevanagari reports whether text has any character in U+0900..U+097F
func ContainsDevanagari(text string) bool {
	for _, r := range text {
		if r >= 0x0900 && r <= 0x097F {
			return true
		}
	}
	return false
}

// ResolveLanguage turns auto into a concrete language for the given utterance
func ResolveLanguage(lang, text string) string {
	lang = NormalizeLanguage(lang)
	if lang != constants.LanguageCodeAuto {
		return lang
	}
	if ContainsDevanagari(text) {
		return constants.LanguageCodeHindi
	}
	return constants.LanguageCodeEnglish
}

// LanguageInstruction returns the prompt line for a resolved language code
func LanguageInstruction(lang string) string {
	if instruction, ok := languageInstructions[lang]; ok {
		return instruction
	}
	return languageInstructions[constants.LanguageCodeEnglish]
}

// GetLanguageName returns the display name for a language code
func GetLanguageName(langCode string) string {
	if name, ok := LanguageNames[langCode]; ok {
		return name
	}
	return langCode // Return code if name not found
}
