package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cytokine/backend/internal/models"
)

// Postgres is the Store backed by PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

type lobbyRow struct {
	ID               string         `db:"id"`
	CreatedAt        time.Time      `db:"created_at"`
	Client           string         `db:"client"`
	CreatedBy        string         `db:"created_by"`
	Status           string         `db:"status"`
	Distribution     string         `db:"distribution"`
	Requirements     types.JSONText `db:"requirements"`
	QueuedPlayers    types.JSONText `db:"queued_players"`
	QueuedIdentities pq.StringArray `db:"queued_identities"`
	Joiners          pq.StringArray `db:"joiners"`
	MaxPlayers       int            `db:"max_players"`
	CallbackURL      string         `db:"callback_url"`
	MatchID          string         `db:"match_id"`
	Data             types.JSONText `db:"data"`
}

const lobbyColumns = `id, created_at, client, created_by, status, distribution, requirements,
	queued_players, queued_identities, joiners, max_players, callback_url, match_id, data`

func (r *lobbyRow) toModel() (*models.Lobby, error) {
	l := &models.Lobby{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Client:       r.Client,
		CreatedBy:    r.CreatedBy,
		Status:       models.LobbyStatus(r.Status),
		Distribution: models.DistributionType(r.Distribution),
		Joiners:      []string(r.Joiners),
		MaxPlayers:   r.MaxPlayers,
		CallbackURL:  r.CallbackURL,
		Match:        r.MatchID,
	}
	if err := r.Requirements.Unmarshal(&l.Requirements); err != nil {
		return nil, errors.Wrapf(err, "decode requirements of lobby %s", r.ID)
	}
	if err := r.QueuedPlayers.Unmarshal(&l.QueuedPlayers); err != nil {
		return nil, errors.Wrapf(err, "decode queued players of lobby %s", r.ID)
	}
	if err := r.Data.Unmarshal(&l.Data); err != nil {
		return nil, errors.Wrapf(err, "decode data of lobby %s", r.ID)
	}
	return l, nil
}

func jsonText(v any) (types.JSONText, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return types.JSONText(b), nil
}

// nonNil keeps JSONB array columns from being stored as null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (p *Postgres) CreateLobby(ctx context.Context, l *models.Lobby) error {
	reqs, err := jsonText(nonNil(l.Requirements))
	if err != nil {
		return errors.Wrap(err, "encode requirements")
	}
	players, err := jsonText(nonNil(l.QueuedPlayers))
	if err != nil {
		return errors.Wrap(err, "encode queued players")
	}
	data, err := jsonText(l.Data)
	if err != nil {
		return errors.Wrap(err, "encode lobby data")
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO lobbies (`+lobbyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, l.ID, l.CreatedAt, l.Client, l.CreatedBy, string(l.Status), string(l.Distribution), reqs,
		players, pq.Array(queuedIdentities(l.QueuedPlayers)), pq.Array(nonNil(l.Joiners)),
		l.MaxPlayers, l.CallbackURL, l.Match, data)
	return errors.Wrapf(err, "insert lobby %s", l.ID)
}

func (p *Postgres) getLobby(ctx context.Context, where string, arg any) (*models.Lobby, error) {
	var row lobbyRow
	err := p.db.GetContext(ctx, &row, `SELECT `+lobbyColumns+` FROM lobbies WHERE `+where+` LIMIT 1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select lobby")
	}
	return row.toModel()
}

func (p *Postgres) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	return p.getLobby(ctx, "id = $1", id)
}

func (p *Postgres) GetLobbyByMatch(ctx context.Context, matchID string) (*models.Lobby, error) {
	return p.getLobby(ctx, "match_id = $1", matchID)
}

// conditions accumulates a WHERE clause with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func lobbyStatuses(s []models.LobbyStatus) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

func (p *Postgres) ListLobbies(ctx context.Context, f LobbyFilter) ([]*models.Lobby, error) {
	var c conditions
	if len(f.Statuses) > 0 {
		c.add("status = ANY($%d)", pq.Array(lobbyStatuses(f.Statuses)))
	}
	if f.Client != "" {
		c.add("client = $%d", f.Client)
	}
	if f.CreatedBy != "" {
		c.add("created_by = $%d", f.CreatedBy)
	}
	if f.ExcludeID != "" {
		c.add("id <> $%d", f.ExcludeID)
	}
	if f.QueuedIdentity != "" {
		c.add("$%d = ANY(queued_identities)", f.QueuedIdentity)
	}

	query := `SELECT ` + lobbyColumns + ` FROM lobbies` + c.where() + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []lobbyRow
	if err := p.db.SelectContext(ctx, &rows, query, c.args...); err != nil {
		return nil, errors.Wrap(err, "list lobbies")
	}
	out := make([]*models.Lobby, 0, len(rows))
	for i := range rows {
		l, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// exec runs a single-row update and maps a missing row to ErrNotFound.
func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetLobbyStatus(ctx context.Context, id string, status models.LobbyStatus) error {
	return p.exec(ctx, `UPDATE lobbies SET status = $2 WHERE id = $1`, id, string(status))
}

func (p *Postgres) SetQueuedPlayers(ctx context.Context, id string, players []models.Player) error {
	b, err := jsonText(nonNil(players))
	if err != nil {
		return errors.Wrap(err, "encode queued players")
	}
	return p.exec(ctx, `UPDATE lobbies SET queued_players = $2, queued_identities = $3 WHERE id = $1`,
		id, b, pq.Array(queuedIdentities(players)))
}

func (p *Postgres) AddJoiner(ctx context.Context, id, identity string, extraExpiry int) error {
	return p.exec(ctx, `
		UPDATE lobbies SET
			joiners = CASE WHEN $2 = ANY(joiners) THEN joiners ELSE array_append(joiners, $2) END,
			data = jsonb_set(data, '{extraExpiryTime}', to_jsonb($3::int))
		WHERE id = $1
	`, id, identity, extraExpiry)
}

func (p *Postgres) SetLobbyData(ctx context.Context, id string, data models.LobbyData) error {
	b, err := jsonText(data)
	if err != nil {
		return errors.Wrap(err, "encode lobby data")
	}
	return p.exec(ctx, `UPDATE lobbies SET data = $2 WHERE id = $1`, id, b)
}

type matchRow struct {
	ID              string         `db:"id"`
	CreatedAt       time.Time      `db:"created_at"`
	Client          string         `db:"client"`
	CallbackURL     string         `db:"callback_url"`
	Game            string         `db:"game"`
	Map             string         `db:"map"`
	Region          string         `db:"region"`
	Status          string         `db:"status"`
	Server          string         `db:"server"`
	Players         types.JSONText `db:"players"`
	RequiredPlayers int            `db:"required_players"`
	Preferences     types.JSONText `db:"preferences"`
	Data            types.JSONText `db:"data"`
}

const matchColumns = `id, created_at, client, callback_url, game, map, region, status, server,
	players, required_players, preferences, data`

func (r *matchRow) toModel() (*models.Match, error) {
	m := &models.Match{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt,
		Client:          r.Client,
		CallbackURL:     r.CallbackURL,
		Game:            r.Game,
		Map:             r.Map,
		Region:          r.Region,
		Status:          models.MatchStatus(r.Status),
		Server:          r.Server,
		RequiredPlayers: r.RequiredPlayers,
	}
	if err := r.Players.Unmarshal(&m.Players); err != nil {
		return nil, errors.Wrapf(err, "decode players of match %s", r.ID)
	}
	if err := r.Preferences.Unmarshal(&m.Preferences); err != nil {
		return nil, errors.Wrapf(err, "decode preferences of match %s", r.ID)
	}
	if err := r.Data.Unmarshal(&m.Data); err != nil {
		return nil, errors.Wrapf(err, "decode data of match %s", r.ID)
	}
	return m, nil
}

func (p *Postgres) CreateMatch(ctx context.Context, m *models.Match) error {
	players, err := jsonText(nonNil(m.Players))
	if err != nil {
		return errors.Wrap(err, "encode players")
	}
	prefs, err := jsonText(m.Preferences)
	if err != nil {
		return errors.Wrap(err, "encode preferences")
	}
	data, err := jsonText(m.Data)
	if err != nil {
		return errors.Wrap(err, "encode match data")
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.ID, m.CreatedAt, m.Client, m.CallbackURL, m.Game, m.Map, m.Region, string(m.Status),
		m.Server, players, m.RequiredPlayers, prefs, data)
	return errors.Wrapf(err, "insert match %s", m.ID)
}

func (p *Postgres) getMatch(ctx context.Context, where string, arg any) (*models.Match, error) {
	var row matchRow
	err := p.db.GetContext(ctx, &row, `SELECT `+matchColumns+` FROM matches WHERE `+where+` LIMIT 1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select match")
	}
	return row.toModel()
}

func (p *Postgres) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	return p.getMatch(ctx, "id = $1", id)
}

func (p *Postgres) GetMatchByServer(ctx context.Context, serverID string) (*models.Match, error) {
	if serverID == "" {
		return nil, ErrNotFound
	}
	return p.getMatch(ctx, "server = $1", serverID)
}

func matchConditions(f MatchFilter) conditions {
	var c conditions
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		c.add("status = ANY($%d)", pq.Array(statuses))
	}
	if f.Client != "" {
		c.add("client = $%d", f.Client)
	}
	if f.Region != "" {
		c.add("region = $%d", f.Region)
	}
	return c
}

func (p *Postgres) ListMatches(ctx context.Context, f MatchFilter) ([]*models.Match, error) {
	c := matchConditions(f)
	query := `SELECT ` + matchColumns + ` FROM matches` + c.where() + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []matchRow
	if err := p.db.SelectContext(ctx, &rows, query, c.args...); err != nil {
		return nil, errors.Wrap(err, "list matches")
	}
	out := make([]*models.Match, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (p *Postgres) CountMatches(ctx context.Context, f MatchFilter) (int, error) {
	c := matchConditions(f)
	var n int
	err := p.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM matches`+c.where(), c.args...)
	return n, errors.Wrap(err, "count matches")
}

func (p *Postgres) SetMatchStatus(ctx context.Context, id string, status models.MatchStatus) error {
	return p.exec(ctx, `UPDATE matches SET status = $2 WHERE id = $1`, id, string(status))
}

func (p *Postgres) SetMatchServer(ctx context.Context, id, serverID string) error {
	return p.exec(ctx, `UPDATE matches SET server = $2 WHERE id = $1`, id, serverID)
}

func (p *Postgres) SetMatchPlayers(ctx context.Context, id string, players []models.Player) error {
	b, err := jsonText(nonNil(players))
	if err != nil {
		return errors.Wrap(err, "encode players")
	}
	return p.exec(ctx, `UPDATE matches SET players = $2 WHERE id = $1`, id, b)
}

func (p *Postgres) SetMatchData(ctx context.Context, id string, data models.MatchData) error {
	b, err := jsonText(data)
	if err != nil {
		return errors.Wrap(err, "encode match data")
	}
	return p.exec(ctx, `UPDATE matches SET data = $2 WHERE id = $1`, id, b)
}

type clientRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	SecretHash string         `db:"secret_hash"`
	Access     types.JSONText `db:"access"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (p *Postgres) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var row clientRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, name, secret_hash, access, created_at, updated_at FROM clients WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select client")
	}

	c := &models.Client{
		ID:         row.ID,
		Name:       row.Name,
		SecretHash: row.SecretHash,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if err := row.Access.Unmarshal(&c.Access); err != nil {
		return nil, errors.Wrapf(err, "decode access of client %s", id)
	}
	return c, nil
}

func (p *Postgres) SaveClient(ctx context.Context, c *models.Client) error {
	access, err := jsonText(c.Access)
	if err != nil {
		return errors.Wrap(err, "encode client access")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, secret_hash, access, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			secret_hash = EXCLUDED.secret_hash,
			access = EXCLUDED.access,
			updated_at = NOW()
	`, c.ID, c.Name, c.SecretHash, access)
	return errors.Wrapf(err, "save client %s", c.ID)
}
