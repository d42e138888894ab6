package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectValid(t *testing.T) {
	d, err := ParseDocument([]byte(`{
		"group_id": "new",
		"title": "Pricing Survey",
		"pages": [{
			"position": 0,
			"page_type": "STANDARD",
			"content_blocks": [
				{"type": "MEDIA_SET", "position": 0, "items": [{"media_type": "IMAGE", "media_data": {"url": "new"}}]},
				{"type": "QUESTION_SET", "position": 1, "items": [{"text": "How much?", "response_type": "SLIDER", "response_options": {"scale": 5}}]}
			]
		}]
	}`))
	require.NoError(t, err)
	assert.Empty(t, Inspect(d))
}

func TestInspectProblems(t *testing.T) {
	d, err := ParseDocument([]byte(`{
		"group_id": "new",
		"pages": [
			"oops",
			{"page_type": "INTRO", "content_blocks": [
				{"type": "QUESTION_SET", "items": [{"response_type": "YES_NO"}]},
				{"type": "MEDIA_SET", "items": [{"media_type": "GIF"}]},
				{"type": "CAROUSEL"}
			]}
		]
	}`))
	require.NoError(t, err)

	problems := Inspect(d)
	assert.Contains(t, problems, "missing title")
	assert.Contains(t, problems, "page 0 is not an object")
	assert.Contains(t, problems, `page 1: unknown page_type "INTRO"`)
	assert.Contains(t, problems, "page 1: 3 content blocks")
	assert.Contains(t, problems, `page 1 block 0 item 0: unknown response_type "YES_NO"`)
	assert.Contains(t, problems, `page 1 block 1 item 0: unknown media_type "GIF"`)
	assert.Contains(t, problems, `page 1 block 2: unknown type "CAROUSEL"`)

	assert.Equal(t, []string{"missing pages"}, Inspect(Document{"title": "T"}))
	assert.Equal(t, []string{"pages is not a list"}, Inspect(Document{"title": "T", "pages": "x"}))
}
