package kyc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	kyc "github.com/goliatone/go-kyc"
	"github.com/goliatone/go-kyc/middleware/jwtware"
)

var testSigningKey = []byte("staff-signing-key")

type httpFixture struct {
	app   *fiber.App
	repos kyc.RepositoryManager
	clock *testClock
}

func newHTTPFixture(t *testing.T, opts ...kyc.ControllerOption) *httpFixture {
	t.Helper()
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 1)

	attacher, _ := newAttacher(repos, clock)
	controller := kyc.NewController(repos, attacher, opts, kyc.WithClock(clock.Now))

	return &httpFixture{app: newRouterApp(controller), repos: repos, clock: clock}
}

// newRouterApp mounts controller through the fiber adapter and returns the
// wrapped app for in-process requests.
func newRouterApp(controller *kyc.Controller) *fiber.App {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{DisableStartupMessage: true})
	})
	kyc.RegisterRoutes(srv.Router(), controller)
	return srv.WrappedRouter()
}

func staffToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtware.StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "kyc-tests",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(testSigningKey)
	require.NoError(t, err)
	return signed
}

func (f *httpFixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	res, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	body := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return res.StatusCode, body
}

func jsonRequest(method, target string, payload any) *http.Request {
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHTTPFullLifecycle(t *testing.T) {
	f := newHTTPFixture(t)

	req := jsonRequest(http.MethodPost, "/tokens/generate", map[string]any{"accountCode": "ACC1", "ttlHours": 2})
	req.Header.Set("X-Actor-ID", "staff-1")
	status, body := f.do(t, req)
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "ACC1", body["accountCode"])

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/public/tokens/validate?token="+token+"&accountCode=ACC1", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])

	status, body = f.do(t, jsonRequest(http.MethodPost, "/public/submit", map[string]any{
		"token":       token,
		"accountCode": "ACC1",
		"payload": map[string]any{
			"type":             kyc.RequestTypeTierUpgrade,
			"levelToUpgradeTo": 3,
			"details":          map[string]any{"note": "please"},
		},
	}))
	require.Equal(t, http.StatusOK, status, body)
	requestID, _ := body["requestId"].(string)
	require.NotEmpty(t, requestID)
	assert.Equal(t, "Pending", body["status"])

	status, body = f.do(t, jsonRequest(http.MethodPost, "/public/submit", map[string]any{
		"token":       token,
		"accountCode": "ACC1",
		"payload":     map[string]any{"type": kyc.RequestTypeTierUpgrade},
	}))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, kyc.TextCodeUnauthorized, errorCode(body))

	for _, action := range []string{"Escalate", "Approve"} {
		status, body = f.do(t, jsonRequest(http.MethodPost, "/requests/process", map[string]any{
			"requestId":  requestID,
			"actionType": action,
			"actorId":    "staff-9",
		}))
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, true, body["ok"])
	}
	assert.Equal(t, "Approved", body["status"])

	status, body = f.do(t, jsonRequest(http.MethodPost, "/requests/process", map[string]any{
		"requestId":  requestID,
		"actionType": "Reject",
		"actorId":    "staff-9",
	}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, kyc.TextCodeInvalidTransition, errorCode(body))

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/public/status/"+requestID, nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Approved", body["status"])
	assert.Equal(t, float64(3), body["upgradeTarget"])
	assert.NotContains(t, body, "auditTrail")
	assert.NotContains(t, body, "approvalActions")

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/requests/"+requestID, nil))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["approvalActions"], 2)
	assert.Len(t, body["auditTrail"], 3)

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/requests?status=Approved", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/requests?status=2", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["total"])

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/requests?status=Lost", nil))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, kyc.TextCodeInvalidInput, errorCode(body))
}

func TestHTTPErrorMapping(t *testing.T) {
	f := newHTTPFixture(t)

	status, body := f.do(t, jsonRequest(http.MethodPost, "/tokens/generate", map[string]any{"accountCode": "NOPE"}))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, kyc.TextCodeInvalidAccount, errorCode(body))

	status, body = f.do(t, jsonRequest(http.MethodPost, "/tokens/generate", map[string]any{"accountCode": ""}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, kyc.TextCodeInvalidInput, errorCode(body))

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/public/status/KYC-UNKNOWN000", nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, kyc.TextCodeNotFound, errorCode(body))

	status, body = f.do(t, jsonRequest(http.MethodPost, "/requests/process", map[string]any{
		"requestId":  "KYC-UNKNOWN000",
		"actionType": "Teleport",
		"actorId":    "staff-1",
	}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, kyc.TextCodeInvalidInput, errorCode(body))

	req := httptest.NewRequest(http.MethodPost, "/public/submit", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	status, body = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, kyc.TextCodeInvalidInput, errorCode(body))

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/public/tokens/validate?token=nope&accountCode=ACC1", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, kyc.TokenReasonUnknown, body["reason"])
}

func TestHTTPMultipartSubmissionAndVerify(t *testing.T) {
	f := newHTTPFixture(t)
	token := issueToken(t, f.repos, f.clock, "ACC1")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("token", token))
	require.NoError(t, form.WriteField("accountCode", "ACC1"))
	require.NoError(t, form.WriteField("payload", `{"type":"identity_verification","levelToUpgradeTo":2}`))
	part, err := form.CreateFormFile(kyc.FileCategoryIDFront, "passport.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 passport"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/public/submit", &buf)
	req.Header.Set(fiber.HeaderContentType, form.FormDataContentType())
	status, body := f.do(t, req)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(1), body["filesAttached"])
	requestID := body["requestId"].(string)

	files, err := f.repos.MediaFiles().ListByRequest(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, kyc.FileCategoryIDFront, files[0].Category)

	verifyPath := "/requests/" + requestID + "/files/" + files[0].ID.String() + "/verify"
	status, body = f.do(t, jsonRequest(http.MethodPost, verifyPath, map[string]any{"actorId": "staff-3"}))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])
	file, _ := body["file"].(map[string]any)
	assert.Equal(t, true, file["verified"])
	assert.Equal(t, "staff-3", file["verified_by"])

	status, body = f.do(t, jsonRequest(http.MethodPost, "/requests/"+requestID+"/files/not-a-uuid/verify", map[string]any{"actorId": "staff-3"}))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, kyc.TextCodeNotFound, errorCode(body))
}

func TestHTTPStaffAuthentication(t *testing.T) {
	f := newHTTPFixture(t, kyc.WithStaffSigningKey(testSigningKey, "kyc-tests"))
	requestID := submitRequest(t, f.repos, f.clock, "ACC1", 2)

	status, body := f.do(t, jsonRequest(http.MethodPost, "/tokens/generate", map[string]any{"accountCode": "ACC1"}))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, kyc.TextCodeStaffUnauthorized, errorCode(body))

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer not-a-jwt")
	status, _ = f.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req = jsonRequest(http.MethodPost, "/requests/process", map[string]any{
		"requestId":  requestID,
		"actionType": "Escalate",
		"actorId":    "someone-else",
	})
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+staffToken(t, "officer-1"))
	status, body = f.do(t, req)
	require.Equal(t, http.StatusOK, status, body)

	actions, err := f.repos.History().ListActions(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "officer-1", actions[0].ActorID, "the token subject wins over the body")

	status, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/public/status/"+requestID, nil))
	assert.Equal(t, http.StatusOK, status, "public routes stay open")
}

func TestControllerPublicStatusWritesJSON(t *testing.T) {
	repos := newTestRepos(t)
	clock := newTestClock()
	seedAccount(t, repos, "ACC1", 0)
	requestID := submitRequest(t, repos, clock, "ACC1", 1)

	controller := kyc.NewController(repos, nil, nil, kyc.WithClock(clock.Now))

	ctx := router.NewMockContext()
	ctx.ParamsM["id"] = requestID
	ctx.On("Context").Return(context.Background())

	var payload *kyc.PublicStatus
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(*kyc.PublicStatus)
	}).Return(nil)

	require.NoError(t, controller.PublicStatus(ctx))
	require.NotNil(t, payload)
	assert.Equal(t, requestID, payload.ID)
	assert.Equal(t, kyc.StatusPending, payload.Status)
}

func TestControllerRoutesErrorsThroughErrorHandler(t *testing.T) {
	repos := newTestRepos(t)

	var handled error
	controller := kyc.NewController(repos, nil, []kyc.ControllerOption{
		kyc.WithControllerErrorHandler(func(ctx router.Context, err error) error {
			handled = err
			return nil
		}),
	})

	ctx := router.NewMockContext()
	ctx.ParamsM["id"] = "KYC-NOPE000000"
	ctx.On("Context").Return(context.Background())

	require.NoError(t, controller.PublicStatus(ctx))
	require.Error(t, handled)
	assert.True(t, kyc.HasTextCode(handled, kyc.TextCodeNotFound))
}
