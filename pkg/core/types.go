package core

import "time"

// Default collections shared by the feature routes.
const (
	// DefaultCollection holds journal, ideas, documents and reflections.
	DefaultCollection = "orion_memory"

	// FeedbackCollection holds action reflections used for agent feedback.
	FeedbackCollection = "orion_feedback_memory"
)

// Memory types used by the feature routes. Any string is accepted; these
// are the conventions the routes agree on.
const (
	TypeGeneral               = "general"
	TypeJournalEntry          = "journal_entry"
	TypeIdeaBrainstorm        = "idea_brainstorm"
	TypeLocalDoc              = "local_doc_txt"
	TypeActionReflection      = "action_reflection"
	TypeOpportunityEvaluation = "opportunity_evaluation"
	TypeOpportunityReflection = "opportunity_reflection"
	TypeLessonsLearned        = "lessons_learned"
	TypeApplicationDraft      = "application_draft"
	TypeWhatsAppAnalysis      = "whatsapp_analysis"
)

// MemoryPoint is one stored chunk: a vector plus its structured payload.
//
// Example:
//
//	point := &core.MemoryPoint{
//	    ID:       "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed",
//	    Text:     "Met with the design team about onboarding",
//	    SourceID: "journal-2024-05-01",
//	    Type:     core.TypeJournalEntry,
//	    Tags:     []string{"work"},
//	}
type MemoryPoint struct {
	// ID is a UUID, unique within the collection.
	ID string `json:"id"`

	// Vector is the embedding of Text. Omitted from JSON.
	Vector []float64 `json:"-"`

	// Text is the chunk text.
	Text string `json:"text"`

	// SourceID groups the chunks of one logical document.
	SourceID string `json:"source_id"`

	// Type classifies the memory (see the Type constants).
	Type string `json:"type"`

	// Tags are lowercased, trimmed and de-duplicated.
	Tags []string `json:"tags"`

	// Timestamp is when the remembered thing happened.
	Timestamp time.Time `json:"timestamp"`

	// IndexedAt is when the point was built.
	IndexedAt time.Time `json:"indexed_at"`

	// ChunkIndex and TotalChunks locate the chunk within its document.
	ChunkIndex  int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`

	// ContentHash identifies the whole added text; every chunk of one
	// AddMemory call carries the same value.
	ContentHash string `json:"content_hash,omitempty"`

	// Metadata holds every other payload field.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScoredMemoryPoint is a search hit.
type ScoredMemoryPoint struct {
	*MemoryPoint

	// Score is the cosine similarity to the query. Higher is better.
	Score float64 `json:"score"`
}

// AddResult describes a successful AddMemory.
type AddResult struct {
	// IDs are the created point ids in chunk order. Empty when the text
	// produced no chunks.
	IDs []string `json:"memoryIds"`

	SourceID   string `json:"sourceId"`
	Collection string `json:"collection"`

	// Chunks is the number of points written.
	Chunks int `json:"chunks"`
}
