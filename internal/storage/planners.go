package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const plannerColumns = `planner_channel, guild_id, claims_channel, ping_channel, ping_role, ticket_role,
	clear_time, is_active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanner(row rowScanner) (*Planner, error) {
	var (
		p                                    Planner
		claims, pingCh, pingRole, ticketRole sql.NullString
		clearTime                            sql.NullInt64
		createdAt                            int64
	)
	if err := row.Scan(&p.ChannelID, &p.GuildID, &claims, &pingCh, &pingRole, &ticketRole,
		&clearTime, &p.IsActive, &createdAt); err != nil {
		return nil, err
	}
	p.ClaimsChannelID = claims.String
	p.PingChannelID = pingCh.String
	p.PingRoleID = pingRole.String
	p.TicketRoleID = ticketRole.String
	if clearTime.Valid {
		t := fromMillis(clearTime.Int64)
		p.ClearTime = &t
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// CreatePlanner registers a channel as a planner. Returns ErrConflict if the
// channel already is one.
func (r *Repository) CreatePlanner(ctx context.Context, p *Planner) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO planners (planner_channel, guild_id, claims_channel, ping_channel, ping_role, ticket_role,
			clear_time, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ChannelID, p.GuildID, nullString(p.ClaimsChannelID), nullString(p.PingChannelID),
		nullString(p.PingRoleID), nullString(p.TicketRoleID), nullMillis(p.ClearTime), p.IsActive,
		toMillis(p.CreatedAt),
	)
	return classify(err)
}

// GetPlanner finds a planner by its channel ID.
func (r *Repository) GetPlanner(ctx context.Context, channelID string) (*Planner, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+plannerColumns+` FROM planners WHERE planner_channel = ?`, channelID)
	p, err := scanPlanner(row)
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// ListPlanners returns every planner, or only the active ones.
func (r *Repository) ListPlanners(ctx context.Context, onlyActive bool) ([]*Planner, error) {
	q := `SELECT ` + plannerColumns + ` FROM planners`
	if onlyActive {
		q += ` WHERE is_active = 1`
	}
	return r.queryPlanners(ctx, q+` ORDER BY planner_channel`)
}

// PlannersByClaimsChannel returns the planners fed by a claims channel.
func (r *Repository) PlannersByClaimsChannel(ctx context.Context, claimsChannelID string) ([]*Planner, error) {
	return r.queryPlanners(ctx,
		`SELECT `+plannerColumns+` FROM planners WHERE claims_channel = ? ORDER BY planner_channel`,
		claimsChannelID)
}

func (r *Repository) queryPlanners(ctx context.Context, q string, args ...any) ([]*Planner, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var planners []*Planner
	for rows.Next() {
		p, err := scanPlanner(rows)
		if err != nil {
			return nil, classify(err)
		}
		planners = append(planners, p)
	}
	return planners, classify(rows.Err())
}

// DeletePlanner removes a planner together with its tracked tiles and claims.
func (r *Repository) DeletePlanner(ctx context.Context, channelID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM claim_overrides WHERE planner_channel = ?`,
		`DELETE FROM tracked_tiles WHERE planner_channel = ?`,
		`DELETE FROM planners WHERE planner_channel = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, channelID); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

// UpdatePlannerConfig applies a partial configuration update.
func (r *Repository) UpdatePlannerConfig(ctx context.Context, channelID string, cfg PlannerConfig) error {
	var (
		fields []string
		args   []any
	)
	add := func(column string, v *string) {
		if v == nil {
			return
		}
		fields = append(fields, column+" = ?")
		args = append(args, nullString(*v))
	}
	add("claims_channel", cfg.ClaimsChannelID)
	add("ping_channel", cfg.PingChannelID)
	add("ping_role", cfg.PingRoleID)
	add("ticket_role", cfg.TicketRoleID)
	if len(fields) == 0 {
		return nil
	}

	args = append(args, channelID)
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE planners SET %s WHERE planner_channel = ?`, strings.Join(fields, ", ")),
		args...,
	)
	return affected(res, err)
}

// SetClearTime sets the capture floor of a planner.
func (r *Repository) SetClearTime(ctx context.Context, channelID string, t time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE planners SET clear_time = ? WHERE planner_channel = ?`, toMillis(t), channelID)
	return affected(res, err)
}

// SetActive turns a planner on or off.
func (r *Repository) SetActive(ctx context.Context, channelID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE planners SET is_active = ? WHERE planner_channel = ?`, active, channelID)
	return affected(res, err)
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
