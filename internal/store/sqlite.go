package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/capture-cli/internal/model"
)

const sqliteDateLayout = "2006-01-02"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	names, err := migrationFiles("migrations/sqlite")
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := migrationFS.ReadFile("migrations/sqlite/" + name)
		if err != nil {
			return eris.Wrapf(err, "sqlite: read migration %s", name)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", name)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensure(ctx context.Context, what, insert, sel string, args ...any) (int64, error) {
	if _, err := s.db.ExecContext(ctx, insert, args...); err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert %s", what)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sel, args...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "sqlite: select %s", what)
	}
	return id, nil
}

// EnsureAgency implements lookup.Backend.
func (s *SQLiteStore) EnsureAgency(ctx context.Context, key model.AgencyKey) (int64, error) {
	key = key.Normalize()
	return s.ensure(ctx, "agency",
		`INSERT INTO agencies (department, sub_tier, office) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		`SELECT id FROM agencies WHERE department = ? AND sub_tier = ? AND office = ?`,
		key.Department, key.SubTier, key.Office)
}

// EnsureNoticeType implements lookup.Backend.
func (s *SQLiteStore) EnsureNoticeType(ctx context.Context, name string) (int64, error) {
	return s.ensure(ctx, "notice type",
		`INSERT INTO notice_types (name) VALUES (?) ON CONFLICT DO NOTHING`,
		`SELECT id FROM notice_types WHERE name = ?`, name)
}

// EnsureSetAside implements lookup.Backend.
func (s *SQLiteStore) EnsureSetAside(ctx context.Context, code string) (int64, error) {
	return s.ensure(ctx, "set aside",
		`INSERT INTO set_asides (code) VALUES (?) ON CONFLICT DO NOTHING`,
		`SELECT id FROM set_asides WHERE code = ?`, code)
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (s *SQLiteStore) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", what)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", what)
}

// upsertOpportunitySQL keeps stored optional values when the incoming one is NULL.
var upsertOpportunitySQL = func() string {
	cols := opportunityColumns
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	merge := make(map[string]bool, len(opportunityMergeCols))
	for _, c := range opportunityMergeCols {
		merge[c] = true
	}
	var sets []string
	for _, c := range cols[1:] {
		if merge[c] {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(excluded.%s, opportunities.%s)", c, c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO opportunities (%s) VALUES (%s) ON CONFLICT (notice_id) DO UPDATE SET %s",
		strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "))
}()

// UpsertOpportunities implements Store.
func (s *SQLiteStore) UpsertOpportunities(ctx context.Context, opps []model.Opportunity) (int64, error) {
	now := time.Now().UTC()
	var n int64
	err := s.inTx(ctx, "opportunities", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertOpportunitySQL)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare opportunity upsert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, o := range opps {
			if o.NoticeID == "" {
				continue
			}
			res, err := stmt.ExecContext(ctx,
				o.NoticeID, nullStr(o.Title), nullStr(o.SolicitationNumber), o.AgencyID,
				o.NoticeType, o.NoticeTypeID, setAsideOrNone(o.SetAsideCode), o.SetAsideID,
				nullStr(o.NAICSCode), nullStr(o.PSCCode), liteDate(o.PostedDate), liteDate(o.ResponseDeadline),
				nullStr(o.PlaceState), o.Active, nullStr(o.Link), nullStr(o.Description),
				o.AwardAmount, liteDate(o.AwardDate), nullStr(o.AwardNumber), nullStr(o.Awardee),
				nullStr(o.Source), now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert opportunity %s", o.NoticeID)
			}
			n += affected(res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// UpsertContacts implements Store.
func (s *SQLiteStore) UpsertContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	var n int64
	err := s.inTx(ctx, "contacts", func(tx *sql.Tx) error {
		for _, c := range contacts {
			if c.NoticeID == "" {
				continue
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO opportunity_contacts (notice_id, email, full_name, title, phone, fax, is_primary)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (notice_id, email, full_name) DO UPDATE SET
					title = COALESCE(excluded.title, opportunity_contacts.title),
					phone = COALESCE(excluded.phone, opportunity_contacts.phone),
					fax = COALESCE(excluded.fax, opportunity_contacts.fax),
					is_primary = excluded.is_primary`,
				c.NoticeID, c.Email, c.FullName, nullStr(c.Title), nullStr(c.Phone), nullStr(c.Fax), c.IsPrimary,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert contact for %s", c.NoticeID)
			}
			n += affected(res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// UpsertContractors implements Store. Each row is merged with the stored one
// through model.MergeContractor inside a single transaction.
func (s *SQLiteStore) UpsertContractors(ctx context.Context, contractors []model.Contractor) (int64, error) {
	now := time.Now().UTC()
	var n int64
	err := s.inTx(ctx, "contractors", func(tx *sql.Tx) error {
		for _, incoming := range contractors {
			if incoming.ID.IsZero() {
				continue
			}
			merged := incoming
			existing, err := scanLiteContractor(tx.QueryRowContext(ctx, contractorSelect+" WHERE uei = ?", incoming.ID.Key()))
			switch {
			case err == nil:
				merged = model.MergeContractor(*existing, incoming)
			case errors.Is(err, sql.ErrNoRows):
			default:
				return eris.Wrapf(err, "sqlite: load contractor %s", incoming.ID)
			}
			if err := writeLiteContractor(ctx, tx, merged, now); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func writeLiteContractor(ctx context.Context, tx *sql.Tx, c model.Contractor, now time.Time) error {
	naics, err := json.Marshal(codes(c.NAICSCodes))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal naics codes")
	}
	psc, err := json.Marshal(codes(c.PSCCodes))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal psc codes")
	}
	certs, err := json.Marshal(codes(c.Certifications))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal certifications")
	}

	var sets []string
	for _, col := range contractorColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	q := fmt.Sprintf("INSERT INTO contractors (%s) VALUES (%s) ON CONFLICT (uei) DO UPDATE SET %s",
		strings.Join(contractorColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(contractorColumns)), ", "),
		strings.Join(sets, ", "))

	_, err = tx.ExecContext(ctx, q,
		c.ID.Key(), nullStr(c.CompanyName), nullStr(c.DBAName), nullStr(c.CAGECode),
		nullStr(c.AddressLine1), nullStr(c.City), nullStr(c.State), nullStr(c.ZipCode),
		nullStr(c.CountryCode), nullStr(c.BusinessURL), string(naics), string(psc),
		string(certs), c.Registered, liteDate(c.ActivationDate), liteDate(c.ExpirationDate),
		nullStr(c.PrimaryPOCName), nullStr(c.PrimaryPOCEmail), nullStr(c.PrimaryPOCPhone),
		nullStr(c.SecondaryPOCName), nullStr(c.Notes), nullStr(string(c.Source)), now,
	)
	return eris.Wrapf(err, "sqlite: write contractor %s", c.ID)
}

// UpsertReferenceCodes implements Store.
func (s *SQLiteStore) UpsertReferenceCodes(ctx context.Context, refs []model.ReferenceCode) (int64, error) {
	var n int64
	err := s.inTx(ctx, "reference codes", func(tx *sql.Tx) error {
		for _, r := range refs {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO reference_codes (kind, code) VALUES (?, ?) ON CONFLICT DO NOTHING`, r.Kind, r.Code)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert reference code %s/%s", r.Kind, r.Code)
			}
			n += affected(res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLiteOpportunity(row scannable) (*model.Opportunity, error) {
	var o model.Opportunity
	var title, sol, dept, sub, office, naics, psc, posted, deadline, state, link, desc sql.NullString
	var awardDate, awardNo, awardee, source sql.NullString
	var agencyID, noticeTypeID, setAsideID sql.NullInt64
	var award sql.NullFloat64
	err := row.Scan(
		&o.NoticeID, &title, &sol, &agencyID,
		&dept, &sub, &office,
		&o.NoticeType, &noticeTypeID, &o.SetAsideCode, &setAsideID,
		&naics, &psc, &posted, &deadline,
		&state, &o.Active, &link, &desc,
		&award, &awardDate, &awardNo, &awardee, &source, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Title, o.SolicitationNumber = title.String, sol.String
	o.AgencyID, o.NoticeTypeID, o.SetAsideID = nullInt(agencyID), nullInt(noticeTypeID), nullInt(setAsideID)
	o.Agency = model.AgencyKey{Department: dept.String, SubTier: sub.String, Office: office.String}
	o.NAICSCode, o.PSCCode, o.PlaceState = naics.String, psc.String, state.String
	o.PostedDate, o.ResponseDeadline, o.AwardDate = parseLiteDate(posted), parseLiteDate(deadline), parseLiteDate(awardDate)
	o.Link, o.Description = link.String, desc.String
	o.AwardNumber, o.Awardee, o.Source = awardNo.String, awardee.String, source.String
	if award.Valid {
		v := award.Float64
		o.AwardAmount = &v
	}
	return &o, nil
}

// ListOpportunities implements Store.
func (s *SQLiteStore) ListOpportunities(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	var where []string
	var args []any
	if filter.ActiveOnly {
		where = append(where, "o.active = 1")
	}
	if filter.NAICS != "" {
		where = append(where, "o.naics_code = ?")
		args = append(args, filter.NAICS)
	}
	if len(filter.NoticeIDs) > 0 {
		where = append(where, "o.notice_id IN ("+placeholders(len(filter.NoticeIDs))+")")
		for _, id := range filter.NoticeIDs {
			args = append(args, id)
		}
	}
	if filter.PostedAfter != nil {
		where = append(where, "o.posted_date >= ?")
		args = append(args, filter.PostedAfter.Format(sqliteDateLayout))
	}
	q := opportunitySelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY o.notice_id"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Opportunity
	for rows.Next() {
		o, err := scanLiteOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate opportunities")
}

// GetOpportunity implements Store.
func (s *SQLiteStore) GetOpportunity(ctx context.Context, noticeID string) (*model.Opportunity, error) {
	o, err := scanLiteOpportunity(s.db.QueryRowContext(ctx, opportunitySelect+" WHERE o.notice_id = ?", noticeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get opportunity %s", noticeID)
	}
	return o, nil
}

func scanLiteContractor(row scannable) (*model.Contractor, error) {
	var c model.Contractor
	var uei, naics, psc, certs string
	var name, dba, cage, addr, city, state, zip, country, url sql.NullString
	var activation, expiration, poc, email, phone, poc2, notes, source sql.NullString
	err := row.Scan(
		&uei, &name, &dba, &cage, &addr, &city, &state, &zip,
		&country, &url, &naics, &psc, &certs, &c.Registered,
		&activation, &expiration, &poc, &email, &phone,
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
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{naics, &c.NAICSCodes}, {psc, &c.PSCCodes}, {certs, &c.Certifications}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal codes for %s", uei)
		}
	}
	c.CompanyName, c.DBAName, c.CAGECode = name.String, dba.String, cage.String
	c.AddressLine1, c.City, c.State, c.ZipCode = addr.String, city.String, state.String, zip.String
	c.CountryCode, c.BusinessURL = country.String, url.String
	c.ActivationDate, c.ExpirationDate = parseLiteDate(activation), parseLiteDate(expiration)
	c.PrimaryPOCName, c.PrimaryPOCEmail, c.PrimaryPOCPhone = poc.String, email.String, phone.String
	c.SecondaryPOCName, c.Notes, c.Source = poc2.String, notes.String, model.Source(source.String)
	return &c, nil
}

// ListContractors implements Store.
func (s *SQLiteStore) ListContractors(ctx context.Context, filter model.ContractorFilter) ([]model.Contractor, error) {
	var where []string
	var args []any
	if filter.RegisteredOnly {
		where = append(where, "is_sam_registered = 1")
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, filter.State)
	}
	q := contractorSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY uei"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contractors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Contractor
	for rows.Next() {
		c, err := scanLiteContractor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contractor")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contractors")
}

// GetContractor implements Store.
func (s *SQLiteStore) GetContractor(ctx context.Context, id string) (*model.Contractor, error) {
	key, err := model.ParseContractorID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	c, err := scanLiteContractor(s.db.QueryRowContext(ctx, contractorSelect+" WHERE uei = ?", key.Key()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get contractor %s", id)
	}
	return c, nil
}

// SaveMatches implements Store.
func (s *SQLiteStore) SaveMatches(ctx context.Context, matches []model.Match, mode WriteMode) (int64, error) {
	if len(matches) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, "matches", func(tx *sql.Tx) error {
		if mode == WriteReplace {
			ids := matchKeys(matches)
			args := make([]any, len(ids))
			for i, id := range ids {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM matches WHERE opportunity_id IN ("+placeholders(len(ids))+")", args...); err != nil {
				return eris.Wrap(err, "sqlite: delete prior matches")
			}
		}
		for _, m := range matches {
			breakdown, err := json.Marshal(m.Breakdown)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal breakdown for %s/%s", m.OpportunityID, m.ContractorID)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO matches (opportunity_id, contractor_id, mode, score, breakdown, tier, status,
					needs_enrichment, rank, config_hash, scored_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (opportunity_id, contractor_id) DO UPDATE SET
					mode = excluded.mode, score = excluded.score, breakdown = excluded.breakdown,
					tier = excluded.tier, status = excluded.status,
					needs_enrichment = excluded.needs_enrichment, rank = excluded.rank,
					config_hash = excluded.config_hash, scored_at = excluded.scored_at`,
				m.OpportunityID, m.ContractorID, string(m.Mode), m.Score, string(breakdown), string(m.Tier),
				m.Status, m.NeedsEnrichment, m.Rank, nullStr(m.ConfigHash), m.ScoredAt.UTC(),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: save match %s/%s", m.OpportunityID, m.ContractorID)
			}
			n += affected(res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListMatches implements Store.
func (s *SQLiteStore) ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error) {
	var where []string
	var args []any
	if filter.OpportunityID != "" {
		where = append(where, "opportunity_id = ?")
		args = append(args, filter.OpportunityID)
	}
	if filter.ContractorID != "" {
		where = append(where, "contractor_id = ?")
		args = append(args, filter.ContractorID)
	}
	if filter.MinTier != "" {
		tiers := tiersAtLeast(filter.MinTier)
		where = append(where, "tier IN ("+placeholders(len(tiers))+")")
		for _, t := range tiers {
			args = append(args, t)
		}
	}
	q := `SELECT opportunity_id, contractor_id, mode, score, breakdown, tier, status,
	             needs_enrichment, rank, config_hash, scored_at
	      FROM matches`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY opportunity_id, rank, score DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list matches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Match
	for rows.Next() {
		var m model.Match
		var mode, tier, breakdown string
		var hash sql.NullString
		if err := rows.Scan(&m.OpportunityID, &m.ContractorID, &mode, &m.Score, &breakdown, &tier,
			&m.Status, &m.NeedsEnrichment, &m.Rank, &hash, &m.ScoredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}
		m.Mode, m.Tier, m.ConfigHash = model.ScoringMode(mode), model.Tier(tier), hash.String
		if err := json.Unmarshal([]byte(breakdown), &m.Breakdown); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal breakdown")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate matches")
}

// UpsertOutcome implements Store.
func (s *SQLiteStore) UpsertOutcome(ctx context.Context, o model.Outcome) error {
	recorded := o.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (opportunity_id, contractor_id, submitted, won, loss_reason, bid_hours_spent, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (opportunity_id, contractor_id) DO UPDATE SET
			submitted = excluded.submitted, won = excluded.won, loss_reason = excluded.loss_reason,
			bid_hours_spent = excluded.bid_hours_spent, recorded_at = excluded.recorded_at`,
		o.OpportunityID, o.ContractorID, o.Submitted, o.Won, nullStr(o.LossReason), o.HoursSpent, recorded,
	)
	return eris.Wrapf(err, "sqlite: upsert outcome %s/%s", o.OpportunityID, o.ContractorID)
}

// GetOutcome implements Store.
func (s *SQLiteStore) GetOutcome(ctx context.Context, opportunityID, contractorID string) (*model.Outcome, error) {
	var o model.Outcome
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT opportunity_id, contractor_id, submitted, won, loss_reason, bid_hours_spent, recorded_at
		FROM outcomes WHERE opportunity_id = ? AND contractor_id = ?`, opportunityID, contractorID,
	).Scan(&o.OpportunityID, &o.ContractorID, &o.Submitted, &o.Won, &reason, &o.HoursSpent, &o.RecordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get outcome")
	}
	o.LossReason = reason.String
	return &o, nil
}

// SaveDraft implements Store.
func (s *SQLiteStore) SaveDraft(ctx context.Context, d model.Draft) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outreach_drafts
			(opportunity_id, contractor_id, recipient_email, subject, body, ai_model_used, tokens_consumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.OpportunityID, d.ContractorID, nullStr(d.RecipientEmail), d.Subject, d.Body,
		nullStr(d.Model), d.TokensUsed, created,
	)
	return eris.Wrapf(err, "sqlite: save draft %s/%s", d.OpportunityID, d.ContractorID)
}

// StartRun implements Store.
func (s *SQLiteStore) StartRun(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (source, status, started_at) VALUES (?, ?, ?)`,
		source, model.RunRunning, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run %s", source)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: run id")
}

// FinishRun implements Store.
func (s *SQLiteStore) FinishRun(ctx context.Context, run model.IngestRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET status = ?, completed_at = ?, fetched = ?, normalized = ?,
			skipped = ?, upserted = ?, failed_batches = ?, error = ?
		WHERE id = ?`,
		run.Status, time.Now().UTC(), run.Fetched, run.Normalized, run.Skipped, run.Upserted,
		run.Failed, nullStr(run.Error), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %d", run.ID)
	}
	return checkRowsAffected(res, "run", fmt.Sprint(run.ID))
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, status, started_at, completed_at, fetched, normalized, skipped,
		       upserted, failed_batches, error
		FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var completed sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &completed, &r.Fetched,
			&r.Normalized, &r.Skipped, &r.Upserted, &r.Failed, &errText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		r.Error = errText.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func liteDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(sqliteDateLayout)
}

func parseLiteDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(sqliteDateLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
