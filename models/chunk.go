package models

// Chunk is a bounded slice of a rendered book, the unit of retrieval.
type Chunk struct {
	ID string `json:"id"`
	// RecordID is the source URL of the book the chunk was cut from.
	RecordID string `json:"record_id"`
	// Position is the chunk's place in the whole build, Index its window
	// number within the record.
	Position int    `json:"position"`
	Index    int    `json:"index"`
	Content  string `json:"content"`
}

// Turn is one answered question in a conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
