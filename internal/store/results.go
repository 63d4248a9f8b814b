package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/abelbrown/curiosity/internal/model"
)

// SaveQuestions stores the run's questions with their final status.
// Re-saving a question replaces the earlier row.
func (s *Store) SaveQuestions(ctx context.Context, runID string, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO questions (
			run_id, platform, external_id, url, raw_text, normalized_text,
			upvotes, comments, views, created_at, ingested_at, status, cluster_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		var clusterIndex any
		if q.ClusterIndex != nil {
			clusterIndex = *q.ClusterIndex
		}
		status := q.Status
		if status == "" {
			status = model.StatusPending
		}
		_, err := stmt.ExecContext(ctx,
			runID,
			string(q.Platform),
			q.ExternalID,
			q.URL,
			q.RawText,
			q.NormalizedText,
			q.Upvotes,
			q.Comments,
			q.Views,
			nullTime(q.CreatedAt),
			nullTime(q.IngestedAt),
			string(status),
			clusterIndex,
		)
		if err != nil {
			return fmt.Errorf("save question %s: %w", q.Key(), err)
		}
	}

	return tx.Commit()
}

// QuestionStatusCounts returns how many of the run's questions ended in
// each status.
func (s *Store) QuestionStatusCounts(ctx context.Context, runID string) (map[model.QuestionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM questions WHERE run_id = ? GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("question status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.QuestionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.QuestionStatus(status)] = n
	}
	return counts, rows.Err()
}

// SaveClusters stores the run's clusters including centroids.
func (s *Store) SaveClusters(ctx context.Context, runID string, clusters []model.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save clusters: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO clusters (
			run_id, cluster_index, canonical_question, centroid, question_count,
			platform_counts, total_engagement, earliest_seen, latest_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save clusters: %w", err)
	}
	defer stmt.Close()

	for _, c := range clusters {
		counts, err := json.Marshal(c.PlatformCounts)
		if err != nil {
			return fmt.Errorf("encode platform counts: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			runID,
			c.Index,
			c.CanonicalQuestion,
			serializeEmbedding(c.Centroid),
			c.MemberCount(),
			string(counts),
			c.TotalEngagement,
			nullTime(c.EarliestSeen),
			nullTime(c.LatestSeen),
		)
		if err != nil {
			return fmt.Errorf("save cluster %d: %w", c.Index, err)
		}
	}

	return tx.Commit()
}

// PriorClusters returns clusters from the tenant's completed runs in the
// weeks [before-weeks, before), newest week first. Questions and members
// are not loaded; QuestionCount carries the cluster size.
func (s *Store) PriorClusters(ctx context.Context, tenant string, before model.Week, weeks int) ([]model.PriorCluster, error) {
	if weeks <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// YYYY-Www sorts lexically in week order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.week, c.canonical_question, c.centroid, c.question_count
		FROM clusters c
		JOIN runs r ON r.id = c.run_id
		WHERE r.tenant = ? AND r.status = ? AND r.week >= ? AND r.week < ?
		ORDER BY r.week DESC, c.cluster_index ASC
	`, tenant, string(model.RunCompleted), before.Sub(weeks).String(), before.String())
	if err != nil {
		return nil, fmt.Errorf("prior clusters: %w", err)
	}
	defer rows.Close()

	var out []model.PriorCluster
	for rows.Next() {
		var (
			pc       model.PriorCluster
			week     string
			centroid []byte
		)
		if err := rows.Scan(&pc.RunID, &week, &pc.CanonicalQuestion, &centroid, &pc.QuestionCount); err != nil {
			return nil, err
		}
		if pc.Week, err = model.ParseWeek(week); err != nil {
			return nil, err
		}
		pc.Centroid = deserializeEmbedding(centroid)
		out = append(out, pc)
	}
	return out, rows.Err()
}

// SaveSignals stores the run's scored signals.
func (s *Store) SaveSignals(ctx context.Context, runID string, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save signals: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals (
			run_id, cluster_index, canonical_question,
			velocity_score, cross_platform_score, engagement_score, novelty_score, weirdness_bonus,
			final_score, tier, is_signal, velocity_pct, platforms, platform_count,
			question_count, total_engagement, sample_questions, news_trigger
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save signals: %w", err)
	}
	defer stmt.Close()

	for _, sig := range signals {
		platforms, err := json.Marshal(sig.Platforms)
		if err != nil {
			return fmt.Errorf("encode platforms: %w", err)
		}
		samples, err := json.Marshal(sig.SampleQuestions)
		if err != nil {
			return fmt.Errorf("encode samples: %w", err)
		}
		var trigger any
		if sig.NewsTrigger != nil {
			b, err := json.Marshal(sig.NewsTrigger)
			if err != nil {
				return fmt.Errorf("encode news trigger: %w", err)
			}
			trigger = string(b)
		}

		_, err = stmt.ExecContext(ctx,
			runID,
			sig.ClusterIndex,
			sig.CanonicalQuestion,
			sig.VelocityScore,
			sig.CrossPlatformScore,
			sig.EngagementScore,
			sig.NoveltyScore,
			sig.WeirdnessBonus,
			sig.FinalScore,
			string(sig.Tier),
			boolToInt(sig.IsSignal),
			sig.VelocityPct,
			string(platforms),
			sig.PlatformCount,
			sig.QuestionCount,
			sig.TotalEngagement,
			string(samples),
			trigger,
		)
		if err != nil {
			return fmt.Errorf("save signal %d: %w", sig.ClusterIndex, err)
		}
	}

	return tx.Commit()
}

// ListSignals returns the run's signals ordered by final score, highest
// first, ties by cluster index.
func (s *Store) ListSignals(ctx context.Context, runID string) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_index, canonical_question,
			velocity_score, cross_platform_score, engagement_score, novelty_score, weirdness_bonus,
			final_score, tier, is_signal, velocity_pct, platforms, platform_count,
			question_count, total_engagement, sample_questions, news_trigger
		FROM signals
		WHERE run_id = ?
		ORDER BY final_score DESC, cluster_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var (
			sig       model.Signal
			tier      string
			isSignal  int
			platforms sql.NullString
			samples   sql.NullString
			trigger   sql.NullString
		)
		err := rows.Scan(
			&sig.ClusterIndex,
			&sig.CanonicalQuestion,
			&sig.VelocityScore,
			&sig.CrossPlatformScore,
			&sig.EngagementScore,
			&sig.NoveltyScore,
			&sig.WeirdnessBonus,
			&sig.FinalScore,
			&tier,
			&isSignal,
			&sig.VelocityPct,
			&platforms,
			&sig.PlatformCount,
			&sig.QuestionCount,
			&sig.TotalEngagement,
			&samples,
			&trigger,
		)
		if err != nil {
			return nil, err
		}
		sig.Tier = model.Tier(tier)
		sig.IsSignal = isSignal != 0
		if platforms.Valid {
			if err := json.Unmarshal([]byte(platforms.String), &sig.Platforms); err != nil {
				return nil, fmt.Errorf("decode platforms: %w", err)
			}
		}
		if samples.Valid {
			if err := json.Unmarshal([]byte(samples.String), &sig.SampleQuestions); err != nil {
				return nil, fmt.Errorf("decode samples: %w", err)
			}
		}
		if trigger.Valid {
			sig.NewsTrigger = &model.NewsTrigger{}
			if err := json.Unmarshal([]byte(trigger.String), sig.NewsTrigger); err != nil {
				return nil, fmt.Errorf("decode news trigger: %w", err)
			}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
