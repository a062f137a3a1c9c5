package domain

// MetadataVersion tags extracted fields with the extraction logic that
// produced them. Bump when the field paths or typing rules change so a
// backlog sweep re-extracts older documents.
const MetadataVersion = "meta-v1"

// ExtractedMetadata is the fixed, typed set of fields parsed out of a
// document's raw metadata payload. Fields the payload does not carry are
// nil, never an error.
type ExtractedMetadata struct {
	// Venue is the publication venue display name
	Venue *string `json:"venue,omitempty"`

	// CitationCount is the number of citing works
	CitationCount *int `json:"citation_count,omitempty"`

	// Topics are the concept/topic tags attached to the work
	Topics []string `json:"topics,omitempty"`

	// Institution is the first author's first affiliated institution
	Institution *string `json:"institution,omitempty"`
}

// Empty reports whether no field was extracted at all.
func (m ExtractedMetadata) Empty() bool {
	return m.Venue == nil && m.CitationCount == nil && len(m.Topics) == 0 && m.Institution == nil
}
