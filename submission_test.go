package kyc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kyc "github.com/goliatone/go-kyc"
	"github.com/goliatone/go-kyc/storage"
)

func newAttacher(repos kyc.RepositoryManager, clock *testClock, opts ...kyc.FileAttacherOption) (*kyc.FileAttacher, *storage.Store) {
	store := storage.NewMemory()
	opts = append([]kyc.FileAttacherOption{kyc.WithFileAttacherClock(clock.Now)}, opts...)
	return kyc.NewFileAttacher(store, repos.MediaFiles(), opts...), store
}

func TestSubmitRoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 1)
	token := issueToken(t, repos, clock, "ACC1")

	payload := kyc.SubmissionPayload{
		Type:             kyc.RequestTypeTierUpgrade,
		PriorityLevel:    intPtr(3),
		LevelToUpgradeTo: 2,
		Details:          map[string]any{"reason": "higher limits", "employer": "Acme"},
	}

	summary, err := kyc.NewSubmitter(repos, nil, kyc.WithClock(clock.Now)).Submit(context.Background(), kyc.SubmitInput{
		Token:       token,
		AccountCode: "ACC1",
		Payload:     payload,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^KYC-[A-HJ-NP-Z2-9]{10}$`, summary.RequestID)
	assert.Equal(t, kyc.StatusPending, summary.Status)
	assert.Equal(t, clock.Now(), summary.SubmittedAt)
	assert.Zero(t, summary.FilesAttached)

	request, err := kyc.NewQueries(repos).GetRequest(context.Background(), summary.RequestID)
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusPending, request.Status)
	assert.Equal(t, "ACC1", request.AccountCode)
	assert.Equal(t, "CO-ACC1", request.CompanyID)
	assert.Equal(t, payload.Type, request.Type)
	assert.Equal(t, 3, request.PriorityLevel)
	assert.Equal(t, 1, request.CurrentLevel)
	assert.Equal(t, 2, request.LevelToUpgradeTo)
	assert.Equal(t, payload.Details, request.Details)
	assert.False(t, request.HasFiles)
	assert.Nil(t, request.CompletedAt)

	audit, err := repos.History().ListAudit(context.Background(), summary.RequestID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, kyc.AuditActionCreate, audit[0].ActionType)
	assert.Nil(t, audit[0].OldStatus)
	assert.Equal(t, kyc.StatusPending, audit[0].NewStatus)
	assert.Equal(t, "ACC1", audit[0].ActorID)

	actions, err := repos.History().ListActions(context.Background(), summary.RequestID)
	require.NoError(t, err)
	assert.Empty(t, actions, "creation is not a staff decision")
}

func TestSubmitDefaultsPriority(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)

	id := submitRequest(t, repos, clock, "ACC1", 1)

	request, err := repos.Requests().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, kyc.DefaultPriorityLevel, request.PriorityLevel)
}

func TestSubmitRejectsInvalidToken(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)
	submitter := kyc.NewSubmitter(repos, nil, kyc.WithClock(clock.Now))

	input := kyc.SubmitInput{
		Token:       issueToken(t, repos, clock, "ACC1"),
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeIdentityVerification},
	}

	_, err := submitter.Submit(context.Background(), input)
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), input)
	require.Error(t, err)
	assert.True(t, kyc.HasTextCode(err, kyc.TextCodeUnauthorized), "a token redeems exactly one submission")

	input.Token = "forged"
	_, err = submitter.Submit(context.Background(), input)
	assert.True(t, kyc.HasTextCode(err, kyc.TextCodeUnauthorized))

	page, err := kyc.NewQueries(repos).ListRequests(context.Background(), kyc.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestSubmitInvalidPayloadKeepsToken(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)
	token := issueToken(t, repos, clock, "ACC1")
	submitter := kyc.NewSubmitter(repos, nil, kyc.WithClock(clock.Now))

	tests := []kyc.SubmissionPayload{
		{},
		{Type: "loan_application"},
		{Type: kyc.RequestTypeTierUpgrade, PriorityLevel: intPtr(9)},
		{Type: kyc.RequestTypeTierUpgrade, LevelToUpgradeTo: -1},
	}
	for _, payload := range tests {
		_, err := submitter.Submit(context.Background(), kyc.SubmitInput{Token: token, AccountCode: "ACC1", Payload: payload})
		require.Error(t, err)
		assert.True(t, kyc.HasTextCode(err, kyc.TextCodeInvalidInput), "%+v", payload)
	}

	info, err := kyc.NewTokenValidator(repos, kyc.WithClock(clock.Now)).Validate(context.Background(), token, "ACC1")
	require.NoError(t, err)
	assert.True(t, info.Valid)
}

func TestSubmitWithFiles(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)
	attacher, store := newAttacher(repos, clock)
	token := issueToken(t, repos, clock, "ACC1")

	summary, err := kyc.NewSubmitter(repos, attacher, kyc.WithClock(clock.Now)).Submit(context.Background(), kyc.SubmitInput{
		Token:       token,
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeIdentityVerification},
		Files: []kyc.FileUpload{
			{Filename: "../../passport.PDF", Category: kyc.FileCategoryIDFront, ContentType: "application/pdf", Content: []byte("%PDF-1.7")},
			{Filename: "bill.png", Content: []byte("png-bytes")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesAttached)

	request, err := repos.Requests().GetByID(context.Background(), summary.RequestID)
	require.NoError(t, err)
	assert.True(t, request.HasFiles)

	files, err := repos.MediaFiles().ListByRequest(context.Background(), summary.RequestID)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byName := map[string]*kyc.MediaFile{}
	for _, f := range files {
		byName[f.Filename] = f
	}

	passport := byName["passport.PDF"]
	require.NotNil(t, passport, "directory components are stripped")
	assert.Equal(t, kyc.FileCategoryIDFront, passport.Category)
	assert.Equal(t, int64(8), passport.SizeBytes)
	assert.Equal(t, "ACC1", passport.UploadedBy)
	assert.False(t, passport.Verified)
	assert.Contains(t, passport.Path, summary.RequestID+"/id_front/")

	content, err := store.Read(passport.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), content)

	bill := byName["bill.png"]
	require.NotNil(t, bill)
	assert.Equal(t, kyc.FileCategorySupportingDocument, bill.Category)
}

func TestSubmitRejectsBadFilesBeforeRedeeming(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)
	attacher, _ := newAttacher(repos, clock, kyc.WithMaxFileBytes(16))
	submitter := kyc.NewSubmitter(repos, attacher, kyc.WithClock(clock.Now))
	token := issueToken(t, repos, clock, "ACC1")

	tests := []struct {
		name string
		file kyc.FileUpload
	}{
		{name: "extension", file: kyc.FileUpload{Filename: "payload.exe", Content: []byte("MZ")}},
		{name: "no extension", file: kyc.FileUpload{Filename: "README", Content: []byte("x")}},
		{name: "too large", file: kyc.FileUpload{Filename: "scan.jpg", Content: make([]byte, 17)}},
		{name: "empty", file: kyc.FileUpload{Filename: "scan.jpg"}},
		{name: "category", file: kyc.FileUpload{Filename: "scan.jpg", Category: "tax_return", Content: []byte("x")}},
		{name: "name", file: kyc.FileUpload{Filename: "  ", Content: []byte("x")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := submitter.Submit(context.Background(), kyc.SubmitInput{
				Token:       token,
				AccountCode: "ACC1",
				Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
				Files:       []kyc.FileUpload{tc.file},
			})
			require.Error(t, err)
			assert.True(t, kyc.HasTextCode(err, kyc.TextCodeInvalidInput), err.Error())
		})
	}

	ok, err := kyc.NewTokenValidator(repos, kyc.WithClock(clock.Now)).ValidateAndConsume(context.Background(), token, "ACC1")
	require.NoError(t, err)
	assert.True(t, ok, "invalid files never touch the token")
}

func TestSubmitFilesWithoutAttacher(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)

	_, err := kyc.NewSubmitter(repos, nil).Submit(context.Background(), kyc.SubmitInput{
		Token:       issueToken(t, repos, clock, "ACC1"),
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
		Files:       []kyc.FileUpload{{Filename: "a.pdf", Content: []byte("x")}},
	})
	assert.True(t, kyc.HasTextCode(err, kyc.TextCodeInvalidInput))
}

func TestSubmitRefundsTokenWhenCreationFails(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)
	store := &recordingStore{Store: storage.NewMemory()}
	attacher := kyc.NewFileAttacher(store, repos.MediaFiles(), kyc.WithFileAttacherClock(clock.Now))
	token := issueToken(t, repos, clock, "ACC1")
	metrics := kyc.NewMetrics(prometheus.NewRegistry())

	broken := repoOverride{RepositoryManager: repos, history: failingAudit{History: repos.History()}}
	_, err := kyc.NewSubmitter(broken, attacher, kyc.WithClock(clock.Now), kyc.WithMetrics(metrics)).Submit(context.Background(), kyc.SubmitInput{
		Token:       token,
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
		Files:       []kyc.FileUpload{{Filename: "id.jpg", Category: kyc.FileCategoryIDFront, Content: []byte("jpeg")}},
	})
	require.Error(t, err)
	assert.True(t, kyc.HasTextCode(err, kyc.TextCodePersistenceFailure))

	page, err := kyc.NewQueries(repos).ListRequests(context.Background(), kyc.RequestFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "request insert rolled back")

	require.Len(t, store.written, 1)
	_, err = store.Read(store.written[0])
	assert.Error(t, err, "written blobs are discarded")

	assert.Zero(t, testutil.ToFloat64(metrics.TokenRedemptions.WithLabelValues("success")), "rolled back redemption is not counted")
	assert.Zero(t, testutil.ToFloat64(metrics.TokenRedemptions.WithLabelValues("rejected")))

	summary, err := kyc.NewSubmitter(repos, attacher, kyc.WithClock(clock.Now), kyc.WithMetrics(metrics)).Submit(context.Background(), kyc.SubmitInput{
		Token:       token,
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
	})
	require.NoError(t, err, "the token stays redeemable after a rolled back submission")
	assert.NotEmpty(t, summary.RequestID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenRedemptions.WithLabelValues("success")))
}

func TestSubmitRegeneratesCollidingID(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)

	ids := &MockIDGenerator{}
	ids.On("NewID").Return("KYC-AAAAAAAAAA", nil).Twice()
	ids.On("NewID").Return("KYC-BBBBBBBBBB", nil).Once()

	submitter := kyc.NewSubmitter(repos, nil, kyc.WithClock(clock.Now), kyc.WithIDGenerator(ids))
	submit := func() (*kyc.SubmissionSummary, error) {
		return submitter.Submit(context.Background(), kyc.SubmitInput{
			Token:       issueToken(t, repos, clock, "ACC1"),
			AccountCode: "ACC1",
			Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
		})
	}

	first, err := submit()
	require.NoError(t, err)
	assert.Equal(t, "KYC-AAAAAAAAAA", first.RequestID)

	second, err := submit()
	require.NoError(t, err)
	assert.Equal(t, "KYC-BBBBBBBBBB", second.RequestID)
	ids.AssertExpectations(t)
}

func TestSubmitGivesUpAfterMaxIDAttempts(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)

	fixed := kyc.IDGeneratorFunc(func() (string, error) { return "KYC-SAMESAMESA", nil })
	submitter := kyc.NewSubmitter(repos, nil,
		kyc.WithClock(clock.Now),
		kyc.WithIDGenerator(fixed),
		kyc.WithMaxIDAttempts(3),
	)

	_, err := submitter.Submit(context.Background(), kyc.SubmitInput{
		Token:       issueToken(t, repos, clock, "ACC1"),
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
	})
	require.NoError(t, err)

	token := issueToken(t, repos, clock, "ACC1")
	_, err = submitter.Submit(context.Background(), kyc.SubmitInput{
		Token:       token,
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
	})
	require.Error(t, err)
	assert.True(t, kyc.HasTextCode(err, kyc.TextCodePersistenceFailure))

	info, err := kyc.NewTokenValidator(repos, kyc.WithClock(clock.Now)).Validate(context.Background(), token, "ACC1")
	require.NoError(t, err)
	assert.True(t, info.Valid)
}

func TestSubmitGeneratorFailure(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)

	broken := kyc.IDGeneratorFunc(func() (string, error) { return "", errors.New("entropy exhausted") })
	_, err := kyc.NewSubmitter(repos, nil, kyc.WithIDGenerator(broken)).Submit(context.Background(), kyc.SubmitInput{
		Token:       issueToken(t, repos, clock, "ACC1"),
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeTierUpgrade},
	})
	assert.True(t, kyc.HasTextCode(err, kyc.TextCodePersistenceFailure))
}

func TestSubmitEmitsActivityAfterCommit(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)

	sink := &MockActivitySink{}
	sink.On("Record", anyContext, eventOfType(kyc.ActivityEventTokenRedeemed)).Return(nil).Once()
	sink.On("Record", anyContext, eventOfType(kyc.ActivityEventRequestSubmitted)).Return(errors.New("sink down")).Once()

	summary, err := kyc.NewSubmitter(repos, nil, kyc.WithClock(clock.Now), kyc.WithActivitySink(sink)).Submit(context.Background(), kyc.SubmitInput{
		Token:       issueToken(t, repos, clock, "ACC1"),
		AccountCode: "ACC1",
		Payload:     kyc.SubmissionPayload{Type: kyc.RequestTypeAddressVerification},
	})
	require.NoError(t, err, "sink failures never fail the caller")
	sink.AssertExpectations(t)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, summary.RequestID, events[1].RequestID)
	assert.Equal(t, kyc.StatusPending, events[1].ToStatus)
}

// recordingStore remembers every key written through it.
type recordingStore struct {
	*storage.Store
	written []string
}

func (r *recordingStore) Write(key string, data []byte) error {
	r.written = append(r.written, key)
	return r.Store.Write(key, data)
}
