package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

func (s *SQLiteIndex) Episode(ctx context.Context, id string) (EpisodeRow, error) {
	var (
		e               EpisodeRow
		genSeed, epSeed string
		startedAt       string
		endedAt, reason sql.NullString
		finalTick       sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id,config_digest,gen_seed,episode_seed,width,height,agents,max_steps,started_at,ended_at,final_tick,reason FROM episodes WHERE id=?`, id,
	).Scan(&e.ID, &e.ConfigDigest, &genSeed, &epSeed, &e.Width, &e.Height, &e.Agents, &e.MaxSteps, &startedAt, &endedAt, &finalTick, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return EpisodeRow{}, fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return EpisodeRow{}, err
	}
	if e.GenSeed, err = strconv.ParseUint(genSeed, 10, 64); err != nil {
		return EpisodeRow{}, fmt.Errorf("episode %s: gen_seed: %w", id, err)
	}
	if e.EpisodeSeed, err = strconv.ParseUint(epSeed, 10, 64); err != nil {
		return EpisodeRow{}, fmt.Errorf("episode %s: episode_seed: %w", id, err)
	}
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return EpisodeRow{}, fmt.Errorf("episode %s: started_at: %w", id, err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return EpisodeRow{}, fmt.Errorf("episode %s: ended_at: %w", id, err)
		}
		e.EndedAt = &t
	}
	if finalTick.Valid {
		v := uint64(finalTick.Int64)
		e.FinalTick = &v
	}
	e.Reason = reason.String
	return e, nil
}

// Steps lists the indexed steps of an episode in tick order.
func (s *SQLiteIndex) Steps(ctx context.Context, episodeID string) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,digest,active_agents,entities,events,terminal FROM steps WHERE episode_id=? ORDER BY tick`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StepRow
	for rows.Next() {
		r := StepRow{EpisodeID: episodeID}
		var tick int64
		var terminal int
		if err := rows.Scan(&tick, &r.Digest, &r.ActiveAgents, &r.Entities, &r.Events, &terminal); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.Terminal = terminal != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rejections lists rejected actions and source failures of an episode,
// optionally filtered to one agent.
func (s *SQLiteIndex) Rejections(ctx context.Context, episodeID, agentID string) ([]RejectionRow, error) {
	q := `SELECT tick,seq,agent_id,kind,code,COALESCE(reason,''),raw_json FROM rejections WHERE episode_id=?`
	args := []any{episodeID}
	if agentID != "" {
		q += ` AND agent_id=?`
		args = append(args, agentID)
	}
	q += ` ORDER BY tick, seq`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RejectionRow
	for rows.Next() {
		r := RejectionRow{EpisodeID: episodeID}
		var tick int64
		if err := rows.Scan(&tick, &r.Seq, &r.AgentID, &r.Kind, &r.Code, &r.Reason, &r.RawJSON); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}
