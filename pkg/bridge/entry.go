package bridge

const (
	// DefaultMimeType is used for created entries and for entries whose type
	// cannot be determined.
	DefaultMimeType = "application/octet-stream"
	// UnknownName is reported for entries without a readable name.
	UnknownName = "unknown"
)

// Grant is the persisted record of the selected folder.
type Grant struct {
	TreeURI string
}

// Entry describes a regular file directly inside the granted folder.
type Entry struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// entryFromDocument fills missing metadata with the default values instead of
// failing.
func entryFromDocument(doc Document) Entry {
	entry := Entry{
		Name: doc.Name(),
		URI:  doc.URI(),
		Type: doc.Type(),
		Size: doc.Size(),
	}

	if entry.Name == "" {
		entry.Name = UnknownName
	}
	if entry.Type == "" {
		entry.Type = DefaultMimeType
	}
	if entry.Size < 0 {
		entry.Size = 0
	}

	return entry
}
