package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

func TestOpenAndMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cmdgate.db")
	first, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	testutil.MakeUser(t, first, testutil.WithName("alice"))
	_ = first.Close()

	second, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	u, err := second.GetUserByName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("data lost across reopen: %v", err)
	}
	if second.Path() != path {
		t.Errorf("Path() = %q, want %q", second.Path(), path)
	}
	testutil.RequireEqual(t, int64(100), u.Credits, "credits")
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := db.Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCreateUser_GeneratesKeyAndRejectsDuplicates(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()

	u := testutil.MakeUser(t, database, testutil.WithName("bob"))
	if len(u.APIKey) != 64 {
		t.Errorf("api key length = %d, want 64 hex chars", len(u.APIKey))
	}

	got, err := database.GetUserByAPIKey(ctx, u.APIKey)
	testutil.RequireNoError(t, err, "lookup by key")
	testutil.RequireEqual(t, u.ID, got.ID, "user id")

	dup := &db.User{Name: "bob", Role: db.RoleMember}
	testutil.RequireErrorIs(t, database.CreateUser(ctx, dup), db.ErrUserExists, "duplicate name")

	bad := &db.User{Name: "carol", Role: "root"}
	if err := database.CreateUser(ctx, bad); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestGetUser_NotFound(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := database.GetUser(ctx, 999)
	testutil.RequireErrorIs(t, err, db.ErrUserNotFound, "missing id")
	_, err = database.GetUserByAPIKey(ctx, "")
	testutil.RequireErrorIs(t, err, db.ErrUserNotFound, "empty key")
	_, err = database.GetUserByAPIKey(ctx, "nope")
	testutil.RequireErrorIs(t, err, db.ErrUserNotFound, "unknown key")
}

func TestSetCredits(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database)

	setCredits := func(id, n int64) error {
		return database.WithTx(ctx, func(tx *db.Tx) error { return tx.SetCredits(ctx, id, n) })
	}

	testutil.RequireNoError(t, setCredits(u.ID, 7), "set credits")
	var got *db.User
	err := database.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		got, err = tx.GetUser(ctx, u.ID)
		return err
	})
	testutil.RequireNoError(t, err, "get user")
	testutil.RequireEqual(t, int64(7), got.Credits, "credits")

	if err := setCredits(u.ID, -1); err == nil {
		t.Fatal("expected error for negative credits")
	}
	testutil.RequireErrorIs(t, setCredits(12345, 1), db.ErrUserNotFound, "unknown user")
}

func TestDebitCredit_StopsAtZero(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database, testutil.WithCredits(2))

	for want := int64(1); want >= 0; want-- {
		err := database.WithTx(ctx, func(tx *db.Tx) error {
			got, err := tx.DebitCredit(ctx, u.ID)
			if err != nil {
				return err
			}
			testutil.RequireEqual(t, want, got, "balance after debit")
			return nil
		})
		testutil.RequireNoError(t, err, "debit")
	}

	err := database.WithTx(ctx, func(tx *db.Tx) error {
		_, err := tx.DebitCredit(ctx, u.ID)
		return err
	})
	testutil.RequireErrorIs(t, err, db.ErrInsufficientCredits, "debit at zero")

	got, err := database.GetUser(ctx, u.ID)
	testutil.RequireNoError(t, err, "get user")
	testutil.RequireEqual(t, int64(0), got.Credits, "balance never negative")
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database, testutil.WithCredits(5))

	boom := errors.New("boom")
	err := database.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.DebitCredit(ctx, u.ID); err != nil {
			return err
		}
		return boom
	})
	testutil.RequireErrorIs(t, err, boom, "tx error")

	got, err := database.GetUser(ctx, u.ID)
	testutil.RequireNoError(t, err, "get user")
	testutil.RequireEqual(t, int64(5), got.Credits, "debit rolled back")
}

func TestCreateRule_AssignsIncreasingOrder(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	admin := testutil.MakeAdmin(t, database)

	patterns := []string{`^ls`, `rm\s+-rf`, `^echo\s+`}
	for i, p := range patterns {
		r := &db.Rule{Pattern: p, Action: db.ActionAutoAccept, CreatedBy: &admin.ID}
		testutil.RequireNoError(t, database.CreateRule(ctx, r), "create rule")
		testutil.RequireEqual(t, int64(i+1), r.OrderIndex, "order index")
	}

	rules, err := database.ListRulesOrdered(ctx)
	testutil.RequireNoError(t, err, "list rules")
	testutil.RequireLen(t, rules, 3, "rules")
	for i, r := range rules {
		testutil.RequireEqual(t, patterns[i], r.Pattern, "pattern order")
		if r.CreatedBy == nil || *r.CreatedBy != admin.ID {
			t.Errorf("rule %d created_by = %v, want %d", r.ID, r.CreatedBy, admin.ID)
		}
	}

	n, err := database.CountRules(ctx)
	testutil.RequireNoError(t, err, "count")
	testutil.RequireEqual(t, 3, n, "count")

	_, err = database.GetRule(ctx, 999)
	testutil.RequireErrorIs(t, err, db.ErrRuleNotFound, "missing rule")

	if err := database.CreateRule(ctx, &db.Rule{Pattern: "x", Action: "MAYBE"}); err == nil {
		t.Fatal("expected error for invalid action")
	}
}

func TestUpdateCommandStatus_Guarded(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database)
	c := testutil.MakeCommand(t, database, u)

	err := database.WithTx(ctx, func(tx *db.Tx) error {
		return tx.UpdateCommandStatus(ctx, c.ID, db.StatusPendingApproval, db.StatusExecuted)
	})
	testutil.RequireNoError(t, err, "pending -> executed")

	got, err := database.GetCommand(ctx, c.ID)
	testutil.RequireNoError(t, err, "get command")
	testutil.RequireEqual(t, db.StatusExecuted, got.Status, "status")
	if !got.CreditsDeducted {
		t.Error("executed command must be marked credits_deducted")
	}

	err = database.WithTx(ctx, func(tx *db.Tx) error {
		return tx.UpdateCommandStatus(ctx, c.ID, db.StatusPendingApproval, db.StatusRejected)
	})
	testutil.RequireErrorIs(t, err, db.ErrStatusChanged, "terminal command cannot move")
}

func TestCommandCheck_ExecutedRequiresDeduction(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database)

	err := database.WithTx(ctx, func(tx *db.Tx) error {
		return tx.InsertCommand(ctx, &db.Command{UserID: u.ID, Text: "ls", Status: db.StatusExecuted})
	})
	if err == nil {
		t.Fatal("expected CHECK violation for EXECUTED without credits_deducted")
	}
}

func TestVotes(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database)
	a1 := testutil.MakeAdmin(t, database)
	a2 := testutil.MakeAdmin(t, database)
	c := testutil.MakeCommand(t, database, u)

	err := database.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.InsertVote(ctx, &db.ApprovalVote{CommandID: c.ID, AdminID: a1.ID, Approved: true}); err != nil {
			return err
		}
		if err := tx.InsertVote(ctx, &db.ApprovalVote{CommandID: c.ID, AdminID: a2.ID, Approved: false, Reason: "no"}); err != nil {
			return err
		}
		n, err := tx.CountApprovals(ctx, c.ID)
		if err != nil {
			return err
		}
		testutil.RequireEqual(t, 1, n, "approving votes")

		voted, err := tx.HasVoted(ctx, c.ID, a2.ID)
		if err != nil {
			return err
		}
		if !voted {
			t.Error("expected a2 to have voted")
		}
		voted, err = tx.HasVoted(ctx, c.ID, u.ID)
		if err != nil {
			return err
		}
		if voted {
			t.Error("member never voted")
		}
		return tx.SetApprovalCount(ctx, c.ID, n)
	})
	testutil.RequireNoError(t, err, "vote tx")

	votes, err := database.ListVotes(ctx, c.ID)
	testutil.RequireNoError(t, err, "list votes")
	testutil.RequireLen(t, votes, 2, "votes")
	testutil.RequireEqual(t, "no", votes[1].Reason, "reason")

	got, err := database.GetCommand(ctx, c.ID)
	testutil.RequireNoError(t, err, "get command")
	testutil.RequireEqual(t, 1, got.ApprovalCount, "approval count")
}

func TestListPendingAndUserCommands(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database, testutil.WithName("dana"))

	first := testutil.MakeCommand(t, database, u, testutil.WithText("first"))
	testutil.MakeCommand(t, database, u, testutil.WithText("rejected"), testutil.WithStatus(db.StatusRejected))
	last := testutil.MakeCommand(t, database, u, testutil.WithText("last"))

	pending, err := database.ListPendingCommands(ctx)
	testutil.RequireNoError(t, err, "pending")
	testutil.RequireLen(t, pending, 2, "pending")
	testutil.RequireEqual(t, first.ID, pending[0].ID, "oldest first")
	testutil.RequireEqual(t, "dana", pending[0].UserName, "user name")

	mine, err := database.ListUserCommands(ctx, u.ID, 2)
	testutil.RequireNoError(t, err, "user commands")
	testutil.RequireLen(t, mine, 2, "limit honored")
	testutil.RequireEqual(t, last.ID, mine[0].ID, "newest first")
}

func TestAudit(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database, testutil.WithName("erin"))

	testutil.RequireNoError(t, database.RecordAudit(ctx, nil, db.AuditSystemInitialized, "boot"), "system audit")
	testutil.RequireNoError(t, database.RecordAudit(ctx, &u.ID, db.AuditCommandExecuted, "ls"), "user audit")

	entries, err := database.ListAudit(ctx, 10)
	testutil.RequireNoError(t, err, "list audit")
	testutil.RequireLen(t, entries, 2, "entries")
	testutil.RequireEqual(t, db.AuditCommandExecuted, entries[0].Action, "newest first")
	testutil.RequireEqual(t, "erin", entries[0].ActorName, "actor name")
	if entries[1].ActorID != nil {
		t.Error("system entry should have no actor")
	}
}

func TestAnalytics(t *testing.T) {
	database := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.MakeUser(t, database, testutil.WithName("finn"))
	testutil.MakeUser(t, database, testutil.WithName("idle"))

	testutil.MakeCommand(t, database, u, testutil.WithText("ls"), testutil.WithStatus(db.StatusExecuted))
	testutil.MakeCommand(t, database, u, testutil.WithText("ls"), testutil.WithStatus(db.StatusExecuted))
	testutil.MakeCommand(t, database, u, testutil.WithText("rm -rf /"), testutil.WithStatus(db.StatusRejected))
	testutil.MakeCommand(t, database, u, testutil.WithText("deploy"))

	a, err := database.Analytics(ctx, time.Now().Add(-time.Hour), 10)
	testutil.RequireNoError(t, err, "analytics")
	testutil.RequireEqual(t, 4, a.Daily.Total, "total")
	testutil.RequireEqual(t, 2, a.Daily.Executed, "executed")
	testutil.RequireEqual(t, 1, a.Daily.Rejected, "rejected")
	testutil.RequireEqual(t, 1, a.Daily.Pending, "pending")
	testutil.RequireEqual(t, int64(2), a.Daily.CreditsUsed, "credits used")
	testutil.RequireEqual(t, "ls", a.TopCommands[0].Text, "top command")
	testutil.RequireEqual(t, 2, a.TopCommands[0].Count, "top count")
	testutil.RequireLen(t, a.UserActivity, 2, "user activity")
	testutil.RequireEqual(t, "finn", a.UserActivity[0].Name, "most active")

	future, err := database.Analytics(ctx, time.Now().Add(time.Hour), 10)
	testutil.RequireNoError(t, err, "future analytics")
	testutil.RequireEqual(t, 0, future.Daily.Total, "nothing after cutoff")
}

func TestWithTx_CommitFailureSurfaces(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()
	database := db.Wrap(sqlDB)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credits = credits - 1").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT credits FROM users").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(int64(4)))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	ctx := context.Background()
	err = database.WithTx(ctx, func(tx *db.Tx) error {
		_, err := tx.DebitCredit(ctx, 1)
		return err
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_RollbackIssuedOnFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()
	database := db.Wrap(sqlDB)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credits = credits - 1").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	err = database.WithTx(ctx, func(tx *db.Tx) error {
		_, err := tx.DebitCredit(ctx, 1)
		return err
	})
	testutil.RequireErrorIs(t, err, db.ErrInsufficientCredits, "zero rows affected")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
