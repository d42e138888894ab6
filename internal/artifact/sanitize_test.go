package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"```json\nHello\n```", "Hello"},
		{"```JSON  text```", "text"},
		{"Here's a JSON survey template for your launch:", "Here's a survey template:"},
		{"Here’s a JSON template you can use: done", "Here's a template: done"},
		{"This JSON survey template works", "This survey template works"},
		{"Use the json template below", "Use the template below"},
		{"  plain text  ", "plain text"},
		{"JSON JSON template", "template"},
		{"Nothing to change here.", "Nothing to change here."},
		{"", ""},
		{"Intro:\n```\n", "Intro:"},
	} {
		assert.Equal(t, tc.want, Sanitize(tc.in), "%q", tc.in)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	for _, in := range []string{
		"```json ```json JSON template```",
		"Here's a JSON survey template: JSON JSON survey template",
		"JSONJSON template template",
		"  ```  ``` json template ```",
		"Here's a JSON template: Here's a JSON template:",
	} {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "%q", in)
	}
}
