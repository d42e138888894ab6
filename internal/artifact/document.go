package artifact

import "encoding/json"

// NewGroup is the group_id the model uses to ask for a brand new artifact.
const NewGroup = "new"

// Document is a survey template as emitted by the model. Only group_id and
// title are interpreted; everything else is passed through untouched.
type Document map[string]any

// ParseDocument decodes raw JSON into a Document, keeping numbers exact.
func ParseDocument(raw []byte) (Document, error) {
	var d Document
	if err := decodeObject(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// GroupID returns the group reference, if it is a string.
func (d Document) GroupID() (string, bool) {
	s, ok := d["group_id"].(string)
	return s, ok
}

// IsNew reports whether the document asks for a new artifact. A missing or
// non-string group_id cannot name an existing group and counts as new.
func (d Document) IsNew() bool {
	id, ok := d.GroupID()
	return !ok || id == "" || id == NewGroup
}

func (d Document) Title() string {
	s, _ := d["title"].(string)
	return s
}

// WithGroupID returns a shallow copy with group_id replaced.
func (d Document) WithGroupID(id string) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	out["group_id"] = id
	return out
}

func (d Document) Marshal() (json.RawMessage, error) {
	return json.Marshal(d)
}
