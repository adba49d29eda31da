package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

func waitlistRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "facility_id", "program_id", "parent_id", "child_name", "child_birth_date",
		"desired_start_date", "preferred_days", "position", "priority_score", "status",
		"sibling_enrolled", "staff_child", "subsidy_approved", "corporate_partner", "special_needs", "in_service_area", "tags",
		"is_paused", "paused_until", "offer_attempts", "created_at", "updated_at",
	})
}

func TestWaitlistRepositoryCreateAssignsPosition(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO waitlist_entries")).
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(7))

	entry := &models.WaitlistEntry{
		FacilityID:       "fac-1",
		ParentID:         "parent-1",
		ChildName:        "Mika",
		ChildBirthDate:   time.Date(2023, 4, 12, 0, 0, 0, 0, time.UTC),
		DesiredStartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(context.Background(), entry))

	assert.Equal(t, 7, entry.Position)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.WaitlistStatusActive, entry.Status)
}

func TestWaitlistRepositoryMarkOfferedTxGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries")).
		WithArgs("entry-1", models.WaitlistStatusOffered, 130.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	ok, err := repo.MarkOfferedTx(context.Background(), tx, "entry-1", 130.5)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())
}

func TestWaitlistRepositoryMarkOfferedTxEntryLeftPool(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries")).
		WithArgs("entry-1", models.WaitlistStatusOffered, 88.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	ok, err := repo.MarkOfferedTx(context.Background(), tx, "entry-1", 88.0)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback())
}

func TestWaitlistRepositoryListReofferableProgramScope(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	now := time.Now().UTC()
	programID := "prog-1"
	rows := waitlistRows().
		AddRow("entry-1", "fac-1", nil, "parent-1", "Mika", now.AddDate(-2, 0, 0),
			now, int64(0), 1, 10.0, "ACTIVE",
			false, false, false, false, false, true, nil,
			false, nil, 0, now.AddDate(0, 0, -20), now).
		AddRow("entry-2", "fac-1", programID, "parent-2", "Ola", now.AddDate(-3, 0, 0),
			now, int64(0), 2, 0.0, "DECLINED",
			true, false, false, false, false, false, nil,
			false, nil, 1, now.AddDate(0, 0, -60), now)

	mock.ExpectQuery(regexp.QuoteMeta("AND (program_id IS NULL OR program_id = $3)")).
		WithArgs("fac-1", sqlmock.AnyArg(), programID).
		WillReturnRows(rows)

	entries, err := repo.ListReofferable(context.Background(), "fac-1", &programID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.WaitlistStatusActive, entries[0].Status)
	assert.Equal(t, models.WaitlistStatusDeclined, entries[1].Status)
	assert.Nil(t, entries[0].ProgramID)
}

func TestWaitlistRepositoryListFiltersAndCount(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	now := time.Now().UTC()
	rows := waitlistRows().
		AddRow("entry-1", "fac-1", nil, "parent-1", "Mika", now.AddDate(-2, 0, 0),
			now, int64(0), 1, 10.0, "ACTIVE",
			false, false, false, false, false, true, nil,
			false, nil, 0, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM waitlist_entries WHERE facility_id = $1 AND status = $2 ORDER BY position ASC")).
		WithArgs("fac-1", models.WaitlistStatusActive).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM waitlist_entries WHERE facility_id = $1 AND status = $2")).
		WithArgs("fac-1", models.WaitlistStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(14))

	entries, total, err := repo.List(context.Background(), models.WaitlistFilter{
		FacilityID: "fac-1",
		Status:     models.WaitlistStatusActive,
		Page:       1,
		PageSize:   20,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 14, total)
}
