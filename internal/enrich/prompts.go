package enrich

import "strings"

const metadataSystemPrompt = `You are a librarian cataloging a book from its opening pages.
Respond with a single JSON object and nothing else, using exactly these keys:
{"title": string, "author": string, "year": number, "language": string, "summary": string}
Rules:
- title and author come from the text itself, not guesses from style.
- year is the original publication year as a number, or 0 if the text does not say.
- language is the language the text is written in.
- summary is one or two sentences describing what the book is about.
- Use the string "unknown" for any text field you cannot determine.`

const classificationSystemPromptHeader = `You are a librarian filing a book into a subject category.
Respond with a single JSON object and nothing else, using exactly these keys:
{"label": string, "confidence": number, "reason": string}
Rules:
- label is a short subject category such as "Science Fiction" or "Cooking".
- confidence is between 0 and 1.
- reason is one sentence explaining the choice.`

func metadataUserPrompt(excerpt string) string {
	return "Opening pages of the book:\n\n" + excerpt
}

func classificationSystemPrompt(existingLabels []string) string {
	if len(existingLabels) == 0 {
		return classificationSystemPromptHeader
	}
	return classificationSystemPromptHeader +
		"\n- Prefer one of the existing categories when it fits: " +
		strings.Join(existingLabels, ", ") + "."
}

func classificationUserPrompt(excerpt string) string {
	return "Opening pages of the book:\n\n" + excerpt
}
