package artifact

import "fmt"

var (
	pageTypes     = set("WELCOME", "STANDARD", "THANK_YOU")
	blockTypes    = set("MEDIA_SET", "QUESTION_SET")
	mediaTypes    = set("IMAGE", "DESCRIPTION", "VIDEO", "URL")
	responseTypes = set("NUMBER_SELECT", "FREE_RESPONSE", "MULTIPLE_CHOICE", "SLIDER")
)

const maxBlocksPerPage = 2

// Inspect lists the ways d departs from the survey template shape. It never
// fails: documents are stored as the model wrote them and the findings are
// only logged.
func Inspect(d Document) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.Title() == "" {
		add("missing title")
	}
	rawPages, ok := d["pages"]
	if !ok {
		add("missing pages")
		return problems
	}
	pages, ok := rawPages.([]any)
	if !ok {
		add("pages is not a list")
		return problems
	}

	for i, p := range pages {
		page, ok := p.(map[string]any)
		if !ok {
			add("page %d is not an object", i)
			continue
		}
		if t, _ := page["page_type"].(string); t != "" && !pageTypes[t] {
			add("page %d: unknown page_type %q", i, t)
		}
		blocks, _ := page["content_blocks"].([]any)
		if len(blocks) > maxBlocksPerPage {
			add("page %d: %d content blocks", i, len(blocks))
		}
		for j, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				add("page %d block %d is not an object", i, j)
				continue
			}
			kind, _ := block["type"].(string)
			if !blockTypes[kind] {
				add("page %d block %d: unknown type %q", i, j, kind)
				continue
			}
			items, _ := block["items"].([]any)
			for k, it := range items {
				item, ok := it.(map[string]any)
				if !ok {
					add("page %d block %d item %d is not an object", i, j, k)
					continue
				}
				switch kind {
				case "MEDIA_SET":
					if t, _ := item["media_type"].(string); !mediaTypes[t] {
						add("page %d block %d item %d: unknown media_type %q", i, j, k, t)
					}
				case "QUESTION_SET":
					if t, _ := item["response_type"].(string); !responseTypes[t] {
						add("page %d block %d item %d: unknown response_type %q", i, j, k, t)
					}
				}
			}
		}
	}
	return problems
}

func set(vals ...string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
