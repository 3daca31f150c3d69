package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/db"
	"github.com/sells-group/capture-cli/internal/model"
)

// migrationLockID guards concurrent migration runs.
const migrationLockID = 7341201

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the per-key lookup paths hit on every first sight.
var preparedStatements = map[string]string{
	"insert_agency":      `INSERT INTO agencies (department, sub_tier, office) VALUES ($1, $2, $3) ON CONFLICT (department, sub_tier, office) DO NOTHING RETURNING id`,
	"select_agency":      `SELECT id FROM agencies WHERE department = $1 AND sub_tier = $2 AND office = $3`,
	"insert_notice_type": `INSERT INTO notice_types (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
	"select_notice_type": `SELECT id FROM notice_types WHERE name = $1`,
	"insert_set_aside":   `INSERT INTO set_asides (code) VALUES ($1) ON CONFLICT (code) DO NOTHING RETURNING id`,
	"select_set_aside":   `SELECT id FROM set_asides WHERE code = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Statements are only prepared once the schema exists.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var ready bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('public.set_asides') IS NOT NULL`).Scan(&ready); err != nil {
			return eris.Wrap(err, "postgres: check schema")
		}
		if !ready {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Migrate applies pending embedded migrations in lexicographic order under
// an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_lock(%d)", migrationLockID)); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_unlock(%d)", migrationLockID)); err != nil {
			log.Warn("postgres: failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	names, err := migrationFiles("migrations/postgres")
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/postgres/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// migrationFiles lists the .sql files under dir, sorted by name.
func migrationFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s", dir)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ensure runs an insert-or-nothing returning id, then falls back to a
// select when another writer created the row first.
func (s *PostgresStore) ensure(ctx context.Context, what, insert, sel string, args ...any) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insert, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(err, "postgres: insert %s", what)
	}
	if err := s.pool.QueryRow(ctx, sel, args...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "postgres: select %s", what)
	}
	return id, nil
}

// EnsureAgency implements lookup.Backend.
func (s *PostgresStore) EnsureAgency(ctx context.Context, key model.AgencyKey) (int64, error) {
	key = key.Normalize()
	return s.ensure(ctx, "agency",
		preparedStatements["insert_agency"], preparedStatements["select_agency"],
		key.Department, key.SubTier, key.Office)
}

// EnsureNoticeType implements lookup.Backend.
func (s *PostgresStore) EnsureNoticeType(ctx context.Context, name string) (int64, error) {
	return s.ensure(ctx, "notice type",
		preparedStatements["insert_notice_type"], preparedStatements["select_notice_type"], name)
}

// EnsureSetAside implements lookup.Backend.
func (s *PostgresStore) EnsureSetAside(ctx context.Context, code string) (int64, error) {
	return s.ensure(ctx, "set aside",
		preparedStatements["insert_set_aside"], preparedStatements["select_set_aside"], code)
}

var opportunityColumns = []string{
	"notice_id", "title", "solicitation_number", "agency_id", "notice_type", "notice_type_id",
	"set_aside_code", "set_aside_id", "naics_code", "psc_code", "posted_date", "response_deadline",
	"place_of_performance_state", "active", "link", "description", "award_amount", "award_date",
	"award_number", "awardee", "source", "updated_at",
}

// Optional opportunity fields keep their stored value when a source omits them.
var opportunityMergeCols = []string{
	"title", "solicitation_number", "agency_id", "notice_type_id", "set_aside_id", "naics_code",
	"psc_code", "posted_date", "response_deadline", "place_of_performance_state", "link",
	"description", "award_amount", "award_date", "award_number", "awardee",
}

// UpsertOpportunities implements Store.
func (s *PostgresStore) UpsertOpportunities(ctx context.Context, opps []model.Opportunity) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(opps))
	for _, o := range opps {
		if o.NoticeID == "" {
			continue
		}
		rows = append(rows, []any{
			o.NoticeID, nullStr(o.Title), nullStr(o.SolicitationNumber), o.AgencyID,
			o.NoticeType, o.NoticeTypeID, setAsideOrNone(o.SetAsideCode), o.SetAsideID,
			nullStr(o.NAICSCode), nullStr(o.PSCCode), pgDate(o.PostedDate), pgDate(o.ResponseDeadline),
			nullStr(o.PlaceState), o.Active, nullStr(o.Link), nullStr(o.Description),
			o.AwardAmount, pgDate(o.AwardDate), nullStr(o.AwardNumber), nullStr(o.Awardee),
			nullStr(o.Source), now,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "opportunities",
		Columns:      opportunityColumns,
		ConflictKeys: []string{"notice_id"},
		MergeCols:    opportunityMergeCols,
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert opportunities")
}

// UpsertContacts implements Store.
func (s *PostgresStore) UpsertContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	rows := make([][]any, 0, len(contacts))
	for _, c := range contacts {
		if c.NoticeID == "" {
			continue
		}
		rows = append(rows, []any{
			c.NoticeID, c.Email, c.FullName, nullStr(c.Title), nullStr(c.Phone), nullStr(c.Fax), c.IsPrimary,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "opportunity_contacts",
		Columns:      []string{"notice_id", "email", "full_name", "title", "phone", "fax", "is_primary"},
		ConflictKeys: []string{"notice_id", "email", "full_name"},
		MergeCols:    []string{"title", "phone", "fax"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert contacts")
}

var contractorColumns = []string{
	"uei", "company_name", "dba_name", "cage_code", "address_line_1", "city", "state", "zip_code",
	"country_code", "business_url", "naics_codes", "psc_codes", "certifications", "is_sam_registered",
	"activation_date", "expiration_date", "primary_poc_name", "primary_poc_email", "primary_poc_phone",
	"secondary_poc_name", "notes", "source", "updated_at",
}

// UpsertContractors implements Store. A new non-empty value overwrites, an
// absent one never erases, code sets are unioned and registration is sticky.
func (s *PostgresStore) UpsertContractors(ctx context.Context, contractors []model.Contractor) (int64, error) {
	now := time.Now().UTC()
	// Duplicates are merged here; the statement-level dedupe would keep only the last.
	contractors = model.MergeBatch(contractors)
	rows := make([][]any, 0, len(contractors))
	for _, c := range contractors {
		rows = append(rows, []any{
			c.ID.Key(), nullStr(c.CompanyName), nullStr(c.DBAName), nullStr(c.CAGECode),
			nullStr(c.AddressLine1), nullStr(c.City), nullStr(c.State), nullStr(c.ZipCode),
			nullStr(c.CountryCode), nullStr(c.BusinessURL), codes(c.NAICSCodes), codes(c.PSCCodes),
			codes(c.Certifications), c.Registered, pgDate(c.ActivationDate), pgDate(c.ExpirationDate),
			nullStr(c.PrimaryPOCName), nullStr(c.PrimaryPOCEmail), nullStr(c.PrimaryPOCPhone),
			nullStr(c.SecondaryPOCName), nullStr(c.Notes), nullStr(string(c.Source)), now,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "contractors",
		Columns:      contractorColumns,
		ConflictKeys: []string{"uei"},
		MergeCols: []string{
			"company_name", "dba_name", "cage_code", "address_line_1", "city", "state", "zip_code",
			"country_code", "business_url", "activation_date", "expiration_date", "primary_poc_name",
			"primary_poc_email", "primary_poc_phone", "secondary_poc_name", "notes", "source",
		},
		UnionCols:  []string{"naics_codes", "psc_codes", "certifications"},
		StickyCols: []string{"is_sam_registered"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert contractors")
}

// UpsertReferenceCodes implements Store.
func (s *PostgresStore) UpsertReferenceCodes(ctx context.Context, refs []model.ReferenceCode) (int64, error) {
	rows := make([][]any, 0, len(refs))
	for _, r := range refs {
		rows = append(rows, []any{r.Kind, r.Code})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "reference_codes",
		Columns:      []string{"kind", "code"},
		ConflictKeys: []string{"kind", "code"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert reference codes")
}

const opportunitySelect = `
	SELECT o.notice_id, o.title, o.solicitation_number, o.agency_id,
	       a.department, a.sub_tier, a.office,
	       o.notice_type, o.notice_type_id, o.set_aside_code, o.set_aside_id,
	       o.naics_code, o.psc_code, o.posted_date, o.response_deadline,
	       o.place_of_performance_state, o.active, o.link, o.description,
	       o.award_amount, o.award_date, o.award_number, o.awardee, o.source, o.updated_at
	FROM opportunities o
	LEFT JOIN agencies a ON a.id = o.agency_id`

func scanPgOpportunity(row pgx.Row) (*model.Opportunity, error) {
	var o model.Opportunity
	var title, sol, dept, sub, office, naics, psc, state, link, desc, awardNo, awardee, source *string
	err := row.Scan(
		&o.NoticeID, &title, &sol, &o.AgencyID,
		&dept, &sub, &office,
		&o.NoticeType, &o.NoticeTypeID, &o.SetAsideCode, &o.SetAsideID,
		&naics, &psc, &o.PostedDate, &o.ResponseDeadline,
		&state, &o.Active, &link, &desc,
		&o.AwardAmount, &o.AwardDate, &awardNo, &awardee, &source, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Title, o.SolicitationNumber = deref(title), deref(sol)
	o.Agency = model.AgencyKey{Department: deref(dept), SubTier: deref(sub), Office: deref(office)}
	o.NAICSCode, o.PSCCode, o.PlaceState = deref(naics), deref(psc), deref(state)
	o.Link, o.Description = deref(link), deref(desc)
	o.AwardNumber, o.Awardee, o.Source = deref(awardNo), deref(awardee), deref(source)
	return &o, nil
}

// ListOpportunities implements Store.
func (s *PostgresStore) ListOpportunities(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ActiveOnly {
		where = append(where, "o.active")
	}
	if filter.NAICS != "" {
		where = append(where, "o.naics_code = "+arg(filter.NAICS))
	}
	if len(filter.NoticeIDs) > 0 {
		where = append(where, "o.notice_id = ANY("+arg(filter.NoticeIDs)+")")
	}
	if filter.PostedAfter != nil {
		where = append(where, "o.posted_date >= "+arg(*filter.PostedAfter))
	}

	q := opportunitySelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY o.notice_id"
	if filter.Limit > 0 {
		q += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		o, err := scanPgOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate opportunities")
}

// GetOpportunity implements Store.
func (s *PostgresStore) GetOpportunity(ctx context.Context, noticeID string) (*model.Opportunity, error) {
	o, err := scanPgOpportunity(s.pool.QueryRow(ctx, opportunitySelect+" WHERE o.notice_id = $1", noticeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get opportunity %s", noticeID)
	}
	return o, nil
}

const contractorSelect = `
	SELECT uei, company_name, dba_name, cage_code, address_line_1, city, state, zip_code,
	       country_code, business_url, naics_codes, psc_codes, certifications, is_sam_registered,
	       activation_date, expiration_date, primary_poc_name, primary_poc_email, primary_poc_phone,
	       secondary_poc_name, notes, source, updated_at
	FROM contractors`

func scanPgContractor(row pgx.Row) (*model.Contractor, error) {
	var c model.Contractor
	var uei string
	var name, dba, cage, addr, city, state, zip, country, url, poc, email, phone, poc2, notes, source *string
	err := row.Scan(
		&uei, &name, &dba, &cage, &addr, &city, &state, &zip,
		&country, &url, &c.NAICSCodes, &c.PSCCodes, &c.Certifications, &c.Registered,
		&c.ActivationDate, &c.ExpirationDate, &poc, &email, &phone,
		&poc2, &notes, &source, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := model.ParseContractorID(uei)
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.CompanyName, c.DBAName, c.CAGECode = deref(name), deref(dba), deref(cage)
	c.AddressLine1, c.City, c.State, c.ZipCode = deref(addr), deref(city), deref(state), deref(zip)
	c.CountryCode, c.BusinessURL = deref(country), deref(url)
	c.PrimaryPOCName, c.PrimaryPOCEmail, c.PrimaryPOCPhone = deref(poc), deref(email), deref(phone)
	c.SecondaryPOCName, c.Notes, c.Source = deref(poc2), deref(notes), model.Source(deref(source))
	return &c, nil
}

// ListContractors implements Store.
func (s *PostgresStore) ListContractors(ctx context.Context, filter model.ContractorFilter) ([]model.Contractor, error) {
	var where []string
	var args []any
	if filter.RegisteredOnly {
		where = append(where, "is_sam_registered")
	}
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	q := contractorSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY uei"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contractors")
	}
	defer rows.Close()

	var out []model.Contractor
	for rows.Next() {
		c, err := scanPgContractor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contractor")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contractors")
}

// GetContractor implements Store.
func (s *PostgresStore) GetContractor(ctx context.Context, id string) (*model.Contractor, error) {
	key, err := model.ParseContractorID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	c, err := scanPgContractor(s.pool.QueryRow(ctx, contractorSelect+" WHERE uei = $1", key.Key()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get contractor %s", id)
	}
	return c, nil
}

var matchColumns = []string{
	"opportunity_id", "contractor_id", "mode", "score", "breakdown", "tier", "status",
	"needs_enrichment", "rank", "config_hash", "scored_at",
}

// SaveMatches implements Store. In replace mode the stored matches of every
// scored opportunity are deleted in the same transaction.
func (s *PostgresStore) SaveMatches(ctx context.Context, matches []model.Match, mode WriteMode) (int64, error) {
	if len(matches) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		breakdown, err := json.Marshal(m.Breakdown)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal breakdown for %s/%s", m.OpportunityID, m.ContractorID)
		}
		rows = append(rows, []any{
			m.OpportunityID, m.ContractorID, string(m.Mode), m.Score, breakdown, string(m.Tier),
			m.Status, m.NeedsEnrichment, m.Rank, nullStr(m.ConfigHash), m.ScoredAt,
		})
	}
	cfg := db.UpsertConfig{
		Table:        "matches",
		Columns:      matchColumns,
		ConflictKeys: []string{"opportunity_id", "contractor_id"},
	}

	if mode != WriteReplace {
		n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
		return n, eris.Wrap(err, "postgres: save matches")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin replace matches")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM matches WHERE opportunity_id = ANY($1)`, matchKeys(matches)); err != nil {
		return 0, eris.Wrap(err, "postgres: delete prior matches")
	}
	// Prior rows are gone, so the fresh set is appended with a plain COPY.
	n, err := db.CopyFrom(ctx, tx, cfg.Table, cfg.Columns, db.DedupeRows(rows, []int{0, 1}))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save matches")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit replace matches")
	}
	return n, nil
}

// ListMatches implements Store.
func (s *PostgresStore) ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.OpportunityID != "" {
		where = append(where, "opportunity_id = "+arg(filter.OpportunityID))
	}
	if filter.ContractorID != "" {
		where = append(where, "contractor_id = "+arg(filter.ContractorID))
	}
	if filter.MinTier != "" {
		where = append(where, "tier = ANY("+arg(tiersAtLeast(filter.MinTier))+")")
	}
	q := `SELECT opportunity_id, contractor_id, mode, score, breakdown, tier, status,
	             needs_enrichment, rank, config_hash, scored_at
	      FROM matches`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY opportunity_id, rank, score DESC"
	if filter.Limit > 0 {
		q += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list matches")
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var m model.Match
		var mode, tier string
		var breakdown []byte
		var hash *string
		if err := rows.Scan(&m.OpportunityID, &m.ContractorID, &mode, &m.Score, &breakdown, &tier,
			&m.Status, &m.NeedsEnrichment, &m.Rank, &hash, &m.ScoredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		m.Mode, m.Tier, m.ConfigHash = model.ScoringMode(mode), model.Tier(tier), deref(hash)
		if len(breakdown) > 0 {
			if err := json.Unmarshal(breakdown, &m.Breakdown); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal breakdown")
			}
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate matches")
}

// UpsertOutcome implements Store.
func (s *PostgresStore) UpsertOutcome(ctx context.Context, o model.Outcome) error {
	recorded := o.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outcomes (opportunity_id, contractor_id, submitted, won, loss_reason, bid_hours_spent, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (opportunity_id, contractor_id) DO UPDATE SET
			submitted = EXCLUDED.submitted,
			won = EXCLUDED.won,
			loss_reason = EXCLUDED.loss_reason,
			bid_hours_spent = EXCLUDED.bid_hours_spent,
			recorded_at = EXCLUDED.recorded_at`,
		o.OpportunityID, o.ContractorID, o.Submitted, o.Won, nullStr(o.LossReason), o.HoursSpent, recorded,
	)
	return eris.Wrapf(err, "postgres: upsert outcome %s/%s", o.OpportunityID, o.ContractorID)
}

// GetOutcome implements Store.
func (s *PostgresStore) GetOutcome(ctx context.Context, opportunityID, contractorID string) (*model.Outcome, error) {
	var o model.Outcome
	var reason *string
	err := s.pool.QueryRow(ctx, `
		SELECT opportunity_id, contractor_id, submitted, won, loss_reason, bid_hours_spent, recorded_at
		FROM outcomes WHERE opportunity_id = $1 AND contractor_id = $2`, opportunityID, contractorID,
	).Scan(&o.OpportunityID, &o.ContractorID, &o.Submitted, &o.Won, &reason, &o.HoursSpent, &o.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get outcome")
	}
	o.LossReason = deref(reason)
	return &o, nil
}

// SaveDraft implements Store.
func (s *PostgresStore) SaveDraft(ctx context.Context, d model.Draft) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outreach_drafts
			(opportunity_id, contractor_id, recipient_email, subject, body, ai_model_used, tokens_consumed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.OpportunityID, d.ContractorID, nullStr(d.RecipientEmail), d.Subject, d.Body,
		nullStr(d.Model), d.TokensUsed, created,
	)
	return eris.Wrapf(err, "postgres: save draft %s/%s", d.OpportunityID, d.ContractorID)
}

// StartRun implements Store.
func (s *PostgresStore) StartRun(ctx context.Context, source string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingest_runs (source, status, started_at) VALUES ($1, $2, now()) RETURNING id`,
		source, model.RunRunning,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run %s", source)
	}
	return id, nil
}

// FinishRun implements Store.
func (s *PostgresStore) FinishRun(ctx context.Context, run model.IngestRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_runs SET status = $1, completed_at = now(), fetched = $2, normalized = $3,
			skipped = $4, upserted = $5, failed_batches = $6, error = $7
		WHERE id = $8`,
		run.Status, run.Fetched, run.Normalized, run.Skipped, run.Upserted, run.Failed,
		nullStr(run.Error), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %d", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %d not found", run.ID)
	}
	return nil
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, status, started_at, completed_at, fetched, normalized, skipped,
		       upserted, failed_batches, error
		FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var errText *string
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.CompletedAt, &r.Fetched,
			&r.Normalized, &r.Skipped, &r.Upserted, &r.Failed, &errText); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Error = deref(errText)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func pgDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// codes returns a non-nil slice so COPY writes '{}' rather than NULL.
func codes(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}

func setAsideOrNone(code string) string {
	if code == "" {
		return model.SetAsideNone
	}
	return code
}
