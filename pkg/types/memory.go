package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryID identifies a MemoryNote. It is opaque and stable for the life of
// the record.
type MemoryID string

// NewMemoryID returns a freshly generated, globally unique MemoryID.
func NewMemoryID() MemoryID {
	return MemoryID(uuid.NewString())
}

// MemoryNote is the primary durable record: free-form text enriched with
// metadata, an optional vector embedding, and typed outgoing links.
type MemoryNote struct {
	// identity
	ID        MemoryID  `json:"id"`
	Namespace Namespace `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// content
	Content     string   `json:"content"`
	Summary     string   `json:"summary,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Context     string   `json:"context,omitempty"`

	// classification
	MemoryType MemoryType `json:"memory_type"`
	Importance int        `json:"importance"`
	Confidence float64    `json:"confidence"`

	// relations
	Links           []MemoryLink `json:"links,omitempty"`
	RelatedFiles    []string     `json:"related_files,omitempty"`
	RelatedEntities []string     `json:"related_entities,omitempty"`

	// access
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// lifecycle
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsArchived    bool       `json:"is_archived"`
	SupersededBy  *MemoryID  `json:"superseded_by,omitempty"`
	Embedding     []float32  `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
}

// NewMemoryNoteParams carries the fields a caller supplies; derived fields
// (id, timestamps, defaults) are filled in by NewMemoryNote.
type NewMemoryNoteParams struct {
	Namespace       Namespace
	Content         string
	Summary         string
	Keywords        []string
	Tags            []string
	Context         string
	MemoryType      MemoryType
	Importance      int
	Confidence      float64
	RelatedFiles    []string
	RelatedEntities []string
	Embedding       []float32
	EmbeddingModel  string
	ExpiresAt       *time.Time
	Now             time.Time
}

// NewMemoryNote constructs a MemoryNote, enforcing the importance/confidence
// ranges and keyword/tag bounds at creation. There is no way to obtain
// an invalid record through this constructor.
func NewMemoryNote(p NewMemoryNoteParams) (*MemoryNote, error) {
	if p.Content == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvariant)
	}
	if p.Importance == 0 {
		p.Importance = 5
	}
	if p.Importance < 1 || p.Importance > 10 {
		return nil, fmt.Errorf("%w: importance %d out of range [1,10]", ErrInvariant, p.Importance)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %f out of range [0,1]", ErrInvariant, p.Confidence)
	}
	if len(p.Keywords) > MaxKeywords {
		return nil, fmt.Errorf("%w: %d keywords exceeds bound of %d", ErrInvariant, len(p.Keywords), MaxKeywords)
	}
	if len(p.Tags) > MaxTags {
		return nil, fmt.Errorf("%w: %d tags exceeds bound of %d", ErrInvariant, len(p.Tags), MaxTags)
	}
	if p.MemoryType == "" {
		p.MemoryType = MemoryTypeReference
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &MemoryNote{
		ID:              NewMemoryID(),
		Namespace:       p.Namespace,
		CreatedAt:       now,
		UpdatedAt:       now,
		Content:         p.Content,
		Summary:         p.Summary,
		Keywords:        p.Keywords,
		Tags:            p.Tags,
		Context:         p.Context,
		MemoryType:      NormalizeMemoryType(p.MemoryType),
		Importance:      p.Importance,
		Confidence:      p.Confidence,
		RelatedFiles:    p.RelatedFiles,
		RelatedEntities: p.RelatedEntities,
		ExpiresAt:       p.ExpiresAt,
		Embedding:       p.Embedding,
		EmbeddingModel:  p.EmbeddingModel,
	}, nil
}

// Validate re-checks every field-level and link-level constraint against
// the current values. Storage calls this before committing an update so
// that mutation never produces an invalid record either.
func (m *MemoryNote) Validate(declaredDim int) error {
	if m.Importance < 1 || m.Importance > 10 {
		return fmt.Errorf("%w: importance %d out of range [1,10]", ErrInvariant, m.Importance)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of range [0,1]", ErrInvariant, m.Confidence)
	}
	if len(m.Keywords) > MaxKeywords {
		return fmt.Errorf("%w: %d keywords exceeds bound of %d", ErrInvariant, len(m.Keywords), MaxKeywords)
	}
	if len(m.Tags) > MaxTags {
		return fmt.Errorf("%w: %d tags exceeds bound of %d", ErrInvariant, len(m.Tags), MaxTags)
	}
	for _, l := range m.Links {
		if l.Target == m.ID {
			return fmt.Errorf("%w: self-link to %s", ErrInvariant, l.Target)
		}
		if l.Strength < 0 || l.Strength > 1 {
			return fmt.Errorf("%w: link strength %f out of range [0,1]", ErrInvariant, l.Strength)
		}
	}
	if m.Embedding != nil && declaredDim > 0 && len(m.Embedding) != declaredDim {
		return fmt.Errorf("%w: embedding dimension %d does not match declared dimension %d", ErrInvariant, len(m.Embedding), declaredDim)
	}
	return nil
}

// MarkAccessed bumps the access counter and last-accessed timestamp. This
// must never trigger an FTS/index update by itself.
func (m *MemoryNote) MarkAccessed(at time.Time) {
	m.AccessCount++
	m.LastAccessedAt = &at
}
