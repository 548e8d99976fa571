package kyc_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	kyc "github.com/goliatone/go-kyc"
	"github.com/goliatone/go-kyc/config"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return newTestClient(t, dsn, 1).DB()
}

// newTestClient opens dsn through a persistence client and applies the
// embedded migrations.
func newTestClient(t *testing.T, dsn string, maxConns int) *persistence.Client {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(maxConns)

	client, err := persistence.New(config.PersistenceConfig{Driver: "sqlite", DSN: dsn}, sqldb, sqlitedialect.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.DB().Close() })

	require.NoError(t, kyc.Migrate(context.Background(), client))
	return client
}

func newTestRepos(t *testing.T) kyc.RepositoryManager {
	t.Helper()
	repos := kyc.NewRepositoryManager(newTestDB(t))
	require.NoError(t, repos.Validate())
	return repos
}

func seedAccount(t *testing.T, repos kyc.RepositoryManager, code string, level int) *kyc.Account {
	t.Helper()
	account, err := repos.Accounts().Create(context.Background(), &kyc.Account{
		Code:           code,
		CompanyID:      "CO-" + code,
		PrivilegeLevel: level,
	})
	require.NoError(t, err)
	return account
}

// testClock is a settable clock safe for concurrent readers.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func issueToken(t *testing.T, repos kyc.RepositoryManager, clock *testClock, accountCode string) string {
	t.Helper()
	issued, err := kyc.NewTokenIssuer(repos, kyc.WithClock(clock.Now)).
		Issue(context.Background(), kyc.ActorRef{ID: "staff-1", Type: kyc.ActorTypeStaff}, kyc.IssueTokenInput{AccountCode: accountCode})
	require.NoError(t, err)
	return issued.Token
}

func intPtr(v int) *int {
	return &v
}

// submitRequest creates a Pending request for accountCode through the public
// submission flow.
func submitRequest(t *testing.T, repos kyc.RepositoryManager, clock *testClock, accountCode string, upgradeTo int) string {
	t.Helper()
	token := issueToken(t, repos, clock, accountCode)
	summary, err := kyc.NewSubmitter(repos, nil, kyc.WithClock(clock.Now)).Submit(context.Background(), kyc.SubmitInput{
		Token:       token,
		AccountCode: accountCode,
		Payload: kyc.SubmissionPayload{
			Type:             kyc.RequestTypeTierUpgrade,
			LevelToUpgradeTo: upgradeTo,
		},
	})
	require.NoError(t, err)
	return summary.RequestID
}

// moveTo drives a fresh request into status using legal actions only.
func moveTo(t *testing.T, engine *kyc.LifecycleEngine, requestID string, status kyc.RequestStatus) {
	t.Helper()

	var path []kyc.ActionType
	switch status {
	case kyc.StatusPending:
	case kyc.StatusInReview:
		path = []kyc.ActionType{kyc.ActionEscalate}
	case kyc.StatusApproved:
		path = []kyc.ActionType{kyc.ActionEscalate, kyc.ActionApprove}
	case kyc.StatusRejected:
		path = []kyc.ActionType{kyc.ActionReject}
	case kyc.StatusArchived:
		path = []kyc.ActionType{kyc.ActionArchive}
	}

	staff := kyc.ActorRef{ID: "setup", Type: kyc.ActorTypeStaff}
	for _, action := range path {
		_, err := engine.ProcessAction(context.Background(), staff, requestID, action, "")
		require.NoError(t, err)
	}
}

// repoOverride lets tests swap single repositories to inject failures.
type repoOverride struct {
	kyc.RepositoryManager
	requests kyc.Requests
	history  kyc.History
}

func (r repoOverride) Requests() kyc.Requests {
	if r.requests != nil {
		return r.requests
	}
	return r.RepositoryManager.Requests()
}

func (r repoOverride) History() kyc.History {
	if r.history != nil {
		return r.history
	}
	return r.RepositoryManager.History()
}

// failingAudit rejects every audit insert.
type failingAudit struct {
	kyc.History
}

func (failingAudit) InsertAuditTx(context.Context, bun.IDB, *kyc.AuditEntry) (*kyc.AuditEntry, error) {
	return nil, fmt.Errorf("audit store unavailable")
}

// staleRequests simulates a concurrent writer: after the engine loads a
// request, the stored status is changed behind its back.
type staleRequests struct {
	kyc.Requests
	to kyc.RequestStatus
}

func (s staleRequests) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*kyc.Request, error) {
	request, err := s.Requests.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	_, err = tx.NewUpdate().
		Model((*kyc.Request)(nil)).
		Set("status = ?", s.to).
		Where("id = ?", id).
		Exec(ctx)
	return request, err
}
