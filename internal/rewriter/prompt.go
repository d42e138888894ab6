// Package rewriter suggests better wordings for a survey question.
package rewriter

import (
	"fmt"
	"strings"

	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/store"
)

const promptTemplate = `You are an expert survey methodologist specializing in question design and bias reduction. Your task is to analyze a survey question and provide exactly 5 improved alternatives.

ORIGINAL QUESTION: {ORIGINAL_QUESTION}

SURVEY CONTEXT:
{SURVEY_CONTEXT}

CONVERSATION CONTEXT:
{CHAT_HISTORY}

Please provide exactly 5 reworded versions of this question. Each suggestion should:
1. Address different aspects of improvement (bias reduction, clarity, specificity, engagement, measurability)
2. Be appropriate for the survey's context and audience
3. Maintain the original intent while improving the methodology

Respond with a JSON object in this exact format:
{
  "suggestions": [
    {
      "reworded": "Your reworded question here",
      "reasoning": "Brief explanation of why this is better",
      "improvement_type": "bias_reduction|clarity|specificity|engagement|measurability",
      "confidence": 0.85
    }
  ]
}

Ensure you provide exactly 5 suggestions with varied improvement types. The confidence should be a decimal between 0.0 and 1.0.`

const (
	maxContextQuestions = 5
	maxHistoryMessages  = 10
	maxHistoryChars     = 200
)

// BuildPrompt fills the rewording template with the survey the question
// belongs to and the recent conversation.
func BuildPrompt(question string, survey artifact.Document, msgs []store.Message) string {
	r := strings.NewReplacer(
		"{ORIGINAL_QUESTION}", question,
		"{SURVEY_CONTEXT}", surveyContext(question, survey),
		"{CHAT_HISTORY}", chatContext(msgs),
	)
	return r.Replace(promptTemplate)
}

func surveyContext(question string, survey artifact.Document) string {
	if survey == nil {
		return "No survey context available."
	}
	title := survey.Title()
	if title == "" {
		title = "Untitled Survey"
	}
	desc, _ := survey["description"].(string)
	if desc == "" {
		desc = "No description"
	}
	questions := questionTexts(survey)

	var b strings.Builder
	fmt.Fprintf(&b, "Survey Title: %s\nSurvey Description: %s\nTotal Questions: %d", title, desc, len(questions))
	if len(questions) > 0 {
		b.WriteString("\n\nOther questions in this survey:")
		for i, q := range questions[:min(len(questions), maxContextQuestions)] {
			if q != question {
				fmt.Fprintf(&b, "\n%d. %s", i+1, q)
			}
		}
	}
	return b.String()
}

// questionTexts walks pages, content blocks and question items in order.
func questionTexts(survey artifact.Document) []string {
	var out []string
	pages, _ := survey["pages"].([]any)
	for _, p := range pages {
		page, _ := p.(map[string]any)
		blocks, _ := page["content_blocks"].([]any)
		for _, b := range blocks {
			block, _ := b.(map[string]any)
			if t, _ := block["type"].(string); t != "QUESTION_SET" {
				continue
			}
			items, _ := block["items"].([]any)
			for _, it := range items {
				item, _ := it.(map[string]any)
				if text, _ := item["text"].(string); text != "" {
					out = append(out, text)
				}
			}
		}
	}
	return out
}

func chatContext(msgs []store.Message) string {
	if len(msgs) == 0 {
		return "No conversation history available."
	}
	if len(msgs) > maxHistoryMessages {
		msgs = msgs[len(msgs)-maxHistoryMessages:]
	}
	var b strings.Builder
	b.WriteString("Recent conversation context:\n")
	for _, m := range msgs {
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if r := []rune(text); len(r) > maxHistoryChars {
			text = string(r[:maxHistoryChars]) + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return b.String()
}
