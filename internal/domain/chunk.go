package domain

// Chunk is a bounded piece of source text.
type Chunk struct {
	Text   string
	Index  int
	Offset int // rune offset in the source text
}

// Document is a stored chunk returned by a similarity query.
type Document struct {
	ID        string
	SessionID string
	Text      string
	Metadata  map[string]string
	Score     float64
}
