package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/capture-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_EnsureAgency_Inserted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO agencies`).
		WithArgs(model.DefaultDepartment, "Army", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.EnsureAgency(context.Background(), model.AgencyKey{SubTier: " Army "})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureNoticeType_FallsBackToSelect(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO notice_types`).
		WithArgs("Solicitation").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM notice_types WHERE name = \$1`).
		WithArgs("Solicitation").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := s.EnsureNoticeType(context.Background(), "Solicitation")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSetAside_InsertError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO set_asides`).
		WithArgs("SBA").
		WillReturnError(errors.New("connection reset"))

	_, err := s.EnsureSetAside(context.Background(), "SBA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert set aside")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOpportunities_BulkSequence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_opportunities"}, opportunityColumns).WillReturnResult(2)
	mock.ExpectExec(`(?s)INSERT INTO "opportunities" AS tgt .* FROM "_tmp_upsert_opportunities" ON CONFLICT \("notice_id"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertOpportunities(context.Background(), []model.Opportunity{
		{NoticeID: "N1", Title: "Runway repair", NoticeType: "Solicitation", Active: true},
		{NoticeID: "N2", NoticeType: "Award Notice"},
		{NoticeID: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertContractors_MergesAndUnions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_contractors"}, contractorColumns).WillReturnResult(1)
	mock.ExpectExec(`(?s)INSERT INTO "contractors" AS tgt .*`+
		`"company_name" = COALESCE\(EXCLUDED\."company_name", tgt\."company_name"\).*`+
		`"naics_codes" = ARRAY\(SELECT DISTINCT x FROM unnest\(COALESCE\(tgt\."naics_codes", '\{\}'\) \|\| COALESCE\(EXCLUDED\."naics_codes", '\{\}'\)\).*`+
		`"is_sam_registered" = \(COALESCE\(tgt\."is_sam_registered", false\) OR COALESCE\(EXCLUDED\."is_sam_registered", false\)\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, err := model.RegisteredID("ABCDEF123456")
	require.NoError(t, err)
	n, err := s.UpsertContractors(context.Background(), []model.Contractor{{ID: id, CompanyName: "Acme"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertContractors_MergesDuplicatesInBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_contractors"}, contractorColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "contractors" AS tgt`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, err := model.RegisteredID("ABCDEF123456")
	require.NoError(t, err)
	n, err := s.UpsertContractors(context.Background(), []model.Contractor{
		{ID: id, CompanyName: "Acme", NAICSCodes: []string{"541512"}},
		{ID: id, NAICSCodes: []string{"541611"}},
		{CompanyName: "no identity"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertContractors_NoIdentities(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.UpsertContractors(context.Background(), []model.Contractor{{CompanyName: "no identity"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOpportunity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)FROM opportunities o .* WHERE o.notice_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetOpportunity(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetContractor_InvalidID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.GetContractor(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOutcome_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM outcomes WHERE opportunity_id = \$1 AND contractor_id = \$2`).
		WithArgs("N1", "ABCDEF123456").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetOutcome(context.Background(), "N1", "ABCDEF123456")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatches_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.SaveMatches(context.Background(), nil, WriteReplace)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatches_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_matches"}, matchColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "matches" AS tgt .* ON CONFLICT \("opportunity_id", "contractor_id"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.SaveMatches(context.Background(), []model.Match{{
		OpportunityID: "N1", ContractorID: "ABCDEF123456", Mode: model.ModeWeighted,
		Score: 0.725, Tier: model.TierHot, Status: model.MatchStatusIdentified, Rank: 1,
		ScoredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}, WriteUpsert)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatches_ReplaceCopies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM matches WHERE opportunity_id = ANY\(\$1\)`).
		WithArgs([]string{"N1"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"matches"}, matchColumns).WillReturnResult(2)
	mock.ExpectCommit()

	scored := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := s.SaveMatches(context.Background(), []model.Match{
		{OpportunityID: "N1", ContractorID: "ABCDEF123456", Mode: model.ModeWeighted, Score: 0.7, Tier: model.TierHot, Rank: 1, ScoredAt: scored},
		{OpportunityID: "N1", ContractorID: "ZZZ999YYY888", Mode: model.ModeWeighted, Score: 0.5, Tier: model.TierWarm, Rank: 2, ScoredAt: scored},
	}, WriteReplace)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatches_ReplaceCopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM matches`).
		WithArgs([]string{"N1"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"matches"}, matchColumns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := s.SaveMatches(context.Background(), []model.Match{{OpportunityID: "N1", ContractorID: "ABCDEF123456"}}, WriteReplace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO matches")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMatches_MinTier(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	hash := "abc123"
	scored := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM matches WHERE opportunity_id = \$1 AND tier = ANY\(\$2\)`).
		WithArgs("N1", []string{"HOT", "WARM"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"opportunity_id", "contractor_id", "mode", "score", "breakdown", "tier", "status",
			"needs_enrichment", "rank", "config_hash", "scored_at",
		}).AddRow("N1", "ABCDEF123456", "weighted", 0.725,
			[]byte(`[{"name":"naics_match","raw":1,"weight":0.25,"value":0.25}]`),
			"HOT", "Identified", false, 1, &hash, scored))

	ms, err := s.ListMatches(context.Background(), model.MatchFilter{OpportunityID: "N1", MinTier: model.TierWarm})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, model.TierHot, ms[0].Tier)
	assert.Equal(t, "abc123", ms[0].ConfigHash)
	require.Len(t, ms[0].Breakdown, 1)
	assert.Equal(t, "naics_match", ms[0].Breakdown[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO ingest_runs .* RETURNING id`).
		WithArgs("api", model.RunRunning).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := s.StartRun(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE ingest_runs SET status = \$1, .* WHERE id = \$8`).
		WithArgs(model.RunComplete, 0, 0, 0, int64(0), 0, pgxmock.AnyArg(), int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), model.IngestRun{ID: 99, Status: model.RunComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 99 not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectMigrationLock(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func expectMigrationUnlock(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestPostgresStore_Migrate_FreshDB(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	names, err := migrationFiles("migrations/postgres")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	expectMigrationLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names {
		mock.ExpectExec(".*").WillReturnResult(pgxmock.NewResult("EXEC", 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	expectMigrationUnlock(mock)

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AllApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	names, err := migrationFiles("migrations/postgres")
	require.NoError(t, err)

	expectMigrationLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	applied := pgxmock.NewRows([]string{"filename"})
	for _, name := range names {
		applied.AddRow(name)
	}
	mock.ExpectQuery("SELECT filename FROM schema_migrations").WillReturnRows(applied)
	expectMigrationUnlock(mock)

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_LockError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnError(errors.New("timeout"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire migration lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTiersAtLeast(t *testing.T) {
	assert.Equal(t, []string{"HOT"}, tiersAtLeast(model.TierHot))
	assert.Equal(t, []string{"HOT", "WARM", "COLD"}, tiersAtLeast(model.TierCold))
}

func TestMatchKeys(t *testing.T) {
	ids := matchKeys([]model.Match{{OpportunityID: "B"}, {OpportunityID: "A"}, {OpportunityID: "B"}})
	assert.Equal(t, []string{"B", "A"}, ids)
}
