package prompt

// TitleSystem instructs the model to answer with a bare conversation title.
const TitleSystem = `You name chat conversations. Reply with a short, descriptive title of at most 50 characters for a conversation that starts with the user's message. Reply with the title only: no quotes, no punctuation at the end, no explanation.`

// TitlePrompt is the user turn of the title request.
func TitlePrompt(firstMessage string) string {
	return "First message of the conversation:\n\n" + firstMessage
}
