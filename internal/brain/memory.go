// Package brain is the long-term conversational memory: an embedded vector
// store holding conversation summaries for later semantic recall.
package brain

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

// Config selects where memories persist and how they embed.
type Config struct {
	// PersistPath keeps memories across restarts; empty runs in-memory.
	PersistPath string
	// EmbeddingBaseURL points at the local OpenAI-compatible embedding
	// endpoint. Empty disables semantic recall entirely.
	EmbeddingBaseURL string
	EmbeddingModel   string
	APIKey           string
}

// Fragment is one recalled memory.
type Fragment struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Memory wraps the vector collection with the two operations the executor
// needs: store a conversation fragment and recall related ones.
type Memory struct {
	collection *chromem.Collection
	logger     *logging.Logger
}

func Open(cfg Config, logger *logging.Logger) (*Memory, error) {
	var embed chromem.EmbeddingFunc
	if cfg.EmbeddingBaseURL != "" {
		embed = chromem.NewEmbeddingFuncOpenAICompat(
			cfg.EmbeddingBaseURL, cfg.APIKey, cfg.EmbeddingModel, nil)
	}
	return open(cfg, embed, logger)
}

func open(cfg Config, embed chromem.EmbeddingFunc, logger *logging.Logger) (*Memory, error) {
	log := logging.OrNop(logger).Component("brain")
	if embed == nil {
		log.Warn("no embedding endpoint configured, memory recall disabled")
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "memory.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection("conversations", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}
	return &Memory{collection: collection, logger: log}, nil
}

// StoreConversation saves a conversation fragment for later recall.
func (m *Memory) StoreConversation(ctx context.Context, sessionID, content string) error {
	if content == "" {
		return nil
	}
	err := m.collection.AddDocument(ctx, chromem.Document{
		ID:      uuid.NewString(),
		Content: content,
		Metadata: map[string]string{
			"session_id": sessionID,
			"stored_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("store conversation fragment: %w", err)
	}
	return nil
}

// QueryMemory recalls fragments semantically similar to the query.
func (m *Memory) QueryMemory(ctx context.Context, query string, topK int, minSimilarity float32) ([]Fragment, error) {
	if topK <= 0 {
		topK = 5
	}
	if count := m.collection.Count(); count == 0 {
		return nil, nil
	} else if topK > count {
		topK = count
	}

	results, err := m.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	var fragments []Fragment
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		fragments = append(fragments, Fragment{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	return fragments, nil
}

// Count returns how many fragments are stored.
func (m *Memory) Count() int {
	return m.collection.Count()
}
