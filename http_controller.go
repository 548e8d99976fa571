package kyc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-kyc/middleware/jwtware"
)

// TextCodeStaffUnauthorized is returned when an internal route is called
// without a valid staff token.
const TextCodeStaffUnauthorized = "UNAUTHORIZED"

const (
	headerContentType = "Content-Type"
	headerActorID     = "X-Actor-ID"
	mimeMultipartForm = "multipart/form-data"
	// multipart parts above this size spill to temporary files
	multipartMemory = 32 << 20
)

type ControllerRoutes struct {
	ValidateToken string
	Submit        string
	PublicStatus  string
	GenerateToken string
	Process       string
	Requests      string
	VerifyFile    string
}

// Controller exposes the lifecycle over HTTP.
type Controller struct {
	Debug        bool
	Logger       Logger
	Routes       *ControllerRoutes
	Issuer       *TokenIssuer
	Validator    *TokenValidator
	Submitter    *Submitter
	Engine       *LifecycleEngine
	Queries      *Queries
	ErrorHandler router.ErrorHandler
	// StaffAuth guards internal routes. When nil the actor is read from the
	// request body or the X-Actor-ID header.
	StaffAuth router.MiddlewareFunc
}

type ControllerOption func(*Controller) *Controller

func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// WithControllerErrorHandler replaces the JSON error envelope writer.
func WithControllerErrorHandler(handler router.ErrorHandler) ControllerOption {
	return func(c *Controller) *Controller {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

// WithStaffSigningKey protects internal routes with HS256 staff tokens.
func WithStaffSigningKey(key []byte, issuer string) ControllerOption {
	return func(c *Controller) *Controller {
		if len(key) == 0 {
			return c
		}
		c.StaffAuth = jwtware.New(jwtware.Config{
			SigningKey:      key,
			Issuer:          issuer,
			ContextEnricher: bindStaff,
			ErrorHandler: func(ctx router.Context, err error) error {
				c.Logger.Info("staff authentication failed", "path", ctx.OriginalURL(), "error", err)
				return writeError(ctx, router.StatusUnauthorized, TextCodeStaffUnauthorized, "missing or invalid staff token")
			},
		})
		return c
	}
}

func NewController(repos RepositoryManager, attacher *FileAttacher, opts []ControllerOption, serviceOpts ...Option) *Controller {
	c := &Controller{
		Logger: defLogger{},
		Routes: &ControllerRoutes{
			ValidateToken: "/public/tokens/validate",
			Submit:        "/public/submit",
			PublicStatus:  "/public/status/:id",
			GenerateToken: "/tokens/generate",
			Process:       "/requests/process",
			Requests:      "/requests",
			VerifyFile:    "/requests/:id/files/:fileId/verify",
		},
		Issuer:    NewTokenIssuer(repos, serviceOpts...),
		Validator: NewTokenValidator(repos, serviceOpts...),
		Submitter: NewSubmitter(repos, attacher, serviceOpts...),
		Engine:    NewLifecycleEngine(repos, serviceOpts...),
		Queries:   NewQueries(repos, serviceOpts...),
	}
	c.ErrorHandler = c.defaultErrHandler

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	return c
}

// RegisterRoutes mounts public and internal routes on app.
func RegisterRoutes[T any](app router.Router[T], c *Controller) {
	app.Get(c.Routes.ValidateToken, c.ValidateToken).SetName("kyc.tokens.validate")
	app.Post(c.Routes.Submit, c.Submit).SetName("kyc.submit")
	app.Get(c.Routes.PublicStatus, c.PublicStatus).SetName("kyc.status")

	internal := []router.MiddlewareFunc{}
	if c.StaffAuth != nil {
		internal = append(internal, c.StaffAuth)
	}

	app.Post(c.Routes.GenerateToken, c.GenerateToken, internal...).SetName("kyc.tokens.generate")
	app.Post(c.Routes.Process, c.ProcessAction, internal...).SetName("kyc.requests.process")
	app.Get(c.Routes.Requests, c.ListRequests, internal...).SetName("kyc.requests.list")
	app.Get(c.Routes.Requests+"/:id", c.RequestDetail, internal...).SetName("kyc.requests.detail")
	app.Post(c.Routes.VerifyFile, c.VerifyFile, internal...).SetName("kyc.files.verify")
}

// GenerateTokenRequest payload
type GenerateTokenRequest struct {
	AccountCode string `json:"accountCode" form:"accountCode"`
	TTLHours    int    `json:"ttlHours" form:"ttlHours"`
}

func (c *Controller) GenerateToken(ctx router.Context) error {
	payload := new(GenerateTokenRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, errInvalidInput("malformed request body", nil))
	}

	issued, err := c.Issuer.Issue(ctx.Context(), c.staffActor(ctx, ""), IssueTokenInput{
		AccountCode: payload.AccountCode,
		TTLHours:    payload.TTLHours,
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, issued)
}

func (c *Controller) ValidateToken(ctx router.Context) error {
	info, err := c.Validator.Validate(ctx.Context(), ctx.Query("token", ""), ctx.Query("accountCode", ""))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, info)
}

func (c *Controller) Submit(ctx router.Context) error {
	input, err := c.parseSubmission(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if c.Debug {
		c.Logger.Debug("submission received",
			"account_code", input.AccountCode,
			"payload", print.MaybePrettyJSON(input.Payload),
			"files", len(input.Files),
		)
	}

	summary, err := c.Submitter.Submit(ctx.Context(), *input)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, summary)
}

// parseSubmission accepts a JSON body, or a multipart form with token,
// accountCode and payload fields plus files keyed by category.
func (c *Controller) parseSubmission(ctx router.Context) (*SubmitInput, error) {
	input := &SubmitInput{}

	mediaType, params, _ := mime.ParseMediaType(ctx.Header(headerContentType))
	if mediaType != mimeMultipartForm {
		if err := ctx.Bind(input); err != nil {
			return nil, errInvalidInput("malformed request body", nil)
		}
		return input, nil
	}

	form, err := readMultipartForm(ctx.Body(), params["boundary"])
	if err != nil {
		return nil, errInvalidInput("malformed multipart form", nil)
	}
	defer form.RemoveAll()

	input.Token = formValue(form, "token")
	input.AccountCode = formValue(form, "accountCode")
	if raw := formValue(form, "payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Payload); err != nil {
			return nil, errInvalidInput("malformed payload field", nil)
		}
	}

	for category, headers := range form.File {
		for _, header := range headers {
			content, err := readFormFile(header)
			if err != nil {
				return nil, errInvalidInput("unreadable file", map[string]any{"filename": header.Filename})
			}
			input.Files = append(input.Files, FileUpload{
				Filename:    header.Filename,
				Category:    category,
				ContentType: header.Header.Get(headerContentType),
				Content:     content,
			})
		}
	}
	return input, nil
}

func readMultipartForm(body []byte, boundary string) (*multipart.Form, error) {
	if boundary == "" {
		return nil, errors.New("multipart boundary is missing")
	}
	return multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(multipartMemory)
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (c *Controller) PublicStatus(ctx router.Context) error {
	status, err := c.Queries.GetPublicStatus(ctx.Context(), ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, status)
}

// ProcessActionRequest payload
type ProcessActionRequest struct {
	RequestID  string `json:"requestId" form:"requestId"`
	ActionType string `json:"actionType" form:"actionType"`
	Remarks    string `json:"remarks" form:"remarks"`
	ActorID    string `json:"actorId" form:"actorId"`
}

func (c *Controller) ProcessAction(ctx router.Context) error {
	payload := new(ProcessActionRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, errInvalidInput("malformed request body", nil))
	}

	action, err := ParseActionType(payload.ActionType)
	if err != nil {
		return c.ErrorHandler(ctx, errInvalidInput("unknown action type", map[string]any{"action": payload.ActionType}))
	}

	result, err := c.Engine.ProcessAction(ctx.Context(), c.staffActor(ctx, payload.ActorID), payload.RequestID, action, payload.Remarks)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"ok":        true,
		"requestId": result.Request.ID,
		"status":    result.To,
	})
}

func (c *Controller) ListRequests(ctx router.Context) error {
	filter := RequestFilter{
		AccountCode: ctx.Query("accountCode", ""),
		Limit:       ctx.QueryInt("limit", defaultListLimit),
		Offset:      ctx.QueryInt("offset", 0),
	}
	if raw := ctx.Query("status", ""); raw != "" {
		status, err := parseStatusParam(raw)
		if err != nil {
			return c.ErrorHandler(ctx, errInvalidInput("unknown status filter", map[string]any{"status": raw}))
		}
		filter.Status = status
	}

	page, err := c.Queries.ListRequests(ctx.Context(), filter)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, page)
}

func parseStatusParam(raw string) (RequestStatus, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		status := RequestStatus(n)
		if !status.IsValid() {
			return 0, strconv.ErrRange
		}
		return status, nil
	}
	return ParseRequestStatus(raw)
}

func (c *Controller) RequestDetail(ctx router.Context) error {
	detail, err := c.Queries.GetRequestDetail(ctx.Context(), ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, detail)
}

// VerifyFileRequest payload
type VerifyFileRequest struct {
	ActorID string `json:"actorId" form:"actorId"`
}

func (c *Controller) VerifyFile(ctx router.Context) error {
	fileID, err := uuid.Parse(ctx.Param("fileId"))
	if err != nil {
		return c.ErrorHandler(ctx, errNotFound("file", ctx.Param("fileId")))
	}

	payload := new(VerifyFileRequest)
	if len(ctx.Body()) > 0 {
		if err := ctx.Bind(payload); err != nil {
			return c.ErrorHandler(ctx, errInvalidInput("malformed request body", nil))
		}
	}

	file, err := c.Queries.VerifyFile(ctx.Context(), c.staffActor(ctx, payload.ActorID), ctx.Param("id"), fileID)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{"ok": true, "file": file})
}

// staffActor prefers the authenticated subject over anything the caller
// claims in the body.
func (c *Controller) staffActor(ctx router.Context, fallback string) ActorRef {
	if actor, ok := ActorFromContext(ctx.Context()); ok {
		return actor
	}
	id := strings.TrimSpace(fallback)
	if id == "" {
		id = strings.TrimSpace(ctx.Header(headerActorID))
	}
	return ActorRef{ID: id, Type: ActorTypeStaff}
}

// defaultErrHandler writes the JSON error envelope. Errors without a text
// code are treated as persistence failures and never echo internals.
func (c *Controller) defaultErrHandler(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithTextCode(TextCodePersistenceFailure).
			WithCode(router.StatusInternalServerError)
	}

	c.Logger.Info(
		"request error",
		"path", ctx.OriginalURL(),
		"error", richErr.Message,
		"category", richErr.Category,
		"text_code", richErr.TextCode,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	status := richErr.Code
	if status < 400 || status > 599 {
		status = router.StatusInternalServerError
	}

	if status >= router.StatusInternalServerError {
		c.Logger.Error("internal error", "path", ctx.OriginalURL(), "error", err)
		return writeError(ctx, status, TextCodePersistenceFailure, "internal server error")
	}
	return writeError(ctx, status, richErr.TextCode, richErr.Message)
}

func writeError(ctx router.Context, status int, code, message string) error {
	return ctx.JSON(status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
