package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/agentcoach/pkg/models"
)

// GetKnowledge returns a knowledge item by ID
func (s *SQLStore) GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	var item models.KnowledgeItem
	err := s.db.GetContext(ctx, &item, s.db.Rebind("SELECT * FROM knowledge_items WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "knowledge item", id)
	}
	return &item, nil
}

// ListKnowledge returns an agent's knowledge, oldest first
func (s *SQLStore) ListKnowledge(ctx context.Context, agentID string) ([]models.KnowledgeItem, error) {
	var items []models.KnowledgeItem
	err := s.db.SelectContext(ctx, &items,
		s.db.Rebind("SELECT * FROM knowledge_items WHERE agent_id = ? ORDER BY created_at, id"), agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	return items, nil
}

// SaveKnowledge inserts or updates a knowledge item
func (s *SQLStore) SaveKnowledge(ctx context.Context, item *models.KnowledgeItem) error {
	query := `
		INSERT INTO knowledge_items (
			id, agent_id, specialty_id, type, content, source, confidence, relevance_score,
			access_count, last_accessed, tags, created_at
		) VALUES (
			:id, :agent_id, :specialty_id, :type, :content, :source, :confidence, :relevance_score,
			:access_count, :last_accessed, :tags, :created_at
		)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			confidence = excluded.confidence,
			relevance_score = excluded.relevance_score,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			tags = excluded.tags
	`
	if _, err := s.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("failed to save knowledge: %w", err)
	}
	return nil
}

// DeleteKnowledge removes the given items and returns how many were deleted
func (s *SQLStore) DeleteKnowledge(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM knowledge_items WHERE id IN (?)", ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete knowledge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
