package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"buildtrack/api/internal/analysis"
	"buildtrack/api/internal/auth"
	"buildtrack/api/internal/authpw"
	"buildtrack/api/internal/baseline"
	"buildtrack/api/internal/config"
	"buildtrack/api/internal/email"
	"buildtrack/api/internal/export"
	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/search"
	"buildtrack/api/internal/storage"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"

	"go.uber.org/zap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	CompanyID    string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	UpdateUserRole(context.Context, string, string) error
	CreateCompany(context.Context, store.Company) error
	GetCompany(context.Context, string) (store.Company, error)
	ListCompanyUsers(context.Context, string) ([]store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListProjects(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	UpdateProject(context.Context, store.Project) (store.Project, error)
	DeleteProject(context.Context, string) error
	ProjectSummary(context.Context, string) (store.ProjectSummary, error)

	ListTasks(context.Context, string) ([]store.Task, error)
	GetTask(context.Context, string, string) (store.Task, error)
	InsertTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, store.Task) (store.Task, error)
	RescheduleTask(context.Context, string, string, time.Time, time.Time, int) (store.Task, error)
	DeleteTask(context.Context, string, string) error
	ListDependencies(context.Context, string) ([]store.TaskDependency, error)
	InsertDependency(context.Context, store.TaskDependency) error
	DeleteDependency(context.Context, string, string) error

	ListStakeholders(context.Context, string) ([]store.Stakeholder, error)
	InsertStakeholder(context.Context, store.Stakeholder) error
	DeleteStakeholder(context.Context, string, string) error
	ListVendors(context.Context, string) ([]store.Vendor, error)
	GetVendor(context.Context, string) (store.Vendor, error)
	InsertVendor(context.Context, store.Vendor) error
	DeleteVendor(context.Context, string, string) error

	ListRFQs(context.Context, string) ([]store.RFQ, error)
	GetRFQ(context.Context, string) (store.RFQ, error)
	InsertRFQ(context.Context, store.RFQ) (store.RFQ, error)
	UpdateRFQStatus(context.Context, string, string, string) (store.RFQ, error)
	ListQuotes(context.Context, string) ([]store.Quote, error)
	GetQuote(context.Context, string) (store.Quote, error)
	InsertQuote(context.Context, store.Quote) (store.Quote, error)
	DecideQuote(context.Context, string, string, string, *store.Commitment) (store.Quote, error)
	ListCommitments(context.Context, string) ([]store.Commitment, error)
	GetCommitment(context.Context, string) (store.Commitment, error)
	InsertCommitment(context.Context, store.Commitment) (store.Commitment, error)
	UpdateCommitmentStatus(context.Context, string, string, string) (store.Commitment, error)
	ListApprovals(context.Context, string, string, string) ([]store.Approval, error)
	GetApproval(context.Context, string) (store.Approval, error)
	InsertApproval(context.Context, store.Approval) (store.Approval, error)
	DecideApproval(context.Context, string, string, string, string, time.Time) (store.Approval, error)

	StartTimer(context.Context, store.TimeEntry) (store.TimeEntry, *store.TimeEntry, error)
	StopTimer(context.Context, string, string, time.Time) (store.TimeEntry, error)
	GetTimeEntry(context.Context, string) (store.TimeEntry, error)
	ActiveTimer(context.Context, string) (store.TimeEntry, error)
	InsertTimeEntry(context.Context, store.TimeEntry) (store.TimeEntry, error)
	DeleteTimeEntry(context.Context, string, string) error
	ListTimeEntries(context.Context, store.TimeFilter) ([]store.TimeEntry, error)
	TimeTotals(context.Context, store.TimeFilter) (map[string]int64, error)

	ListRoles(context.Context, string) ([]store.Role, error)
	SaveRole(context.Context, store.Role) error
	DeleteRole(context.Context, string, string) error
	ListUserPermissions(context.Context, string, string) ([]store.UserPermission, error)
	ReplaceUserPermissions(context.Context, string, string, string, []store.UserPermission) error

	ListProjectDocuments(context.Context, string) ([]store.ProjectDocument, error)
	GetProjectDocument(context.Context, string) (store.ProjectDocument, error)
	InsertProjectDocument(context.Context, store.ProjectDocument) (store.ProjectDocument, error)
	DeleteProjectDocument(context.Context, string, string) error
}

// refreshStore keeps hashed refresh tokens; Redis when configured, otherwise
// Postgres.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	// ConsumeRefreshSession returns the owner of a live token and retires it
	// in the same step, so a replayed token can mint at most one session.
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexProject(p search.ProjectRecord)
	IndexTask(t search.TaskRecord)
	IndexVendor(v search.VendorRecord)
	DeleteProject(id string)
	DeleteTask(id string)
	DeleteVendor(id string)
}

type baselineStore interface {
	Snapshot(projectID, name string, tasks []baseline.Task, author string) (baseline.Info, error)
	History(projectID string, limit int) ([]baseline.Info, error)
	Get(projectID, hash string) (baseline.Snapshot, baseline.Info, error)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendApprovalDecisionEmail(to string, data email.ApprovalDecisionData) error
}

type objectStore interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.Object, error)
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, storage.Object, error)
	Remove(ctx context.Context, bucket, key string) error
	PublicURL(bucket, key string) string
}

type analyzer interface {
	Run(ctx context.Context, req analysis.Request) (analysis.Response, error)
}

type changeFeed interface {
	Subscribe(filter realtime.Filter) *realtime.Subscription
}

// Deps are the optional collaborators. A nil field disables the routes it
// backs; callers must leave a field unset rather than assign a typed nil.
type Deps struct {
	Sessions  refreshStore
	Search    searchIndex
	Baselines baselineStore
	Exporter  exporter
	Mailer    mailer
	Objects   objectStore
	Analysis  analyzer
	Events    realtime.Publisher
	Changes   changeFeed
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	authpw    *authpw.Service
	search    searchIndex
	baselines baselineStore
	exporter  exporter
	mailer    mailer
	objects   objectStore
	analysis  analyzer
	events    realtime.Publisher
	changes   changeFeed
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	svc := newService(cfg, dataStore, deps)
	svc.authpw = authpw.NewService(dataStore)
	return svc
}

func newService(cfg config.Config, dataStore dataStore, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		if rs, ok := dataStore.(refreshStore); ok {
			sessions = rs
		}
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		search:    deps.Search,
		baselines: deps.Baselines,
		exporter:  deps.Exporter,
		mailer:    deps.Mailer,
		objects:   deps.Objects,
		analysis:  deps.Analysis,
		events:    deps.Events,
		changes:   deps.Changes,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil || strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	userID, err := s.sessions.ConsumeRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return s.CreateSession(ctx, userID)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:       user.ID,
		Name:      user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if s.sessions != nil {
		if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
			return Session{}, err
		}
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		CompanyID:    user.CompanyID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken re-reads the user so role and company changes apply
// before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// EndRefreshSessions revokes every refresh token a user holds. Failures are
// only logged since access tokens still expire on their own.
func (s *Service) EndRefreshSessions(ctx context.Context, userID string) {
	if s.sessions == nil || userID == "" {
		return
	}
	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		s.logger.Warn("revoke user sessions", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" && s.sessions != nil {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
	return nil
}

// RegisterCompany creates a company for a new signup. The first user of a
// company becomes its admin.
func (s *Service) RegisterCompany(ctx context.Context, name string) (store.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Company{}, validationError("companyName is required")
	}
	company := store.Company{ID: util.NewID("cmp"), Name: name, CreatedAt: s.now().UTC()}
	if err := s.store.CreateCompany(ctx, company); err != nil {
		return store.Company{}, err
	}
	return company, nil
}

func (s *Service) CompanyExists(ctx context.Context, companyID string) error {
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "company does not exist", nil)
	}
	return nil
}

func (s *Service) sendVerification(user, address, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := strings.TrimRight(s.cfg.AppURL, "/") + "/verify-email?token=" + token
	if err := s.mailer.SendVerificationEmail(address, user, link); err != nil {
		s.logger.Warn("send verification email", zap.String("to", address), zap.Error(err))
	}
}

func (s *Service) sendPasswordReset(ctx context.Context, address, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	name := address
	if user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(address))); err == nil {
		name = user.DisplayName
	}
	link := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password?token=" + token
	if err := s.mailer.SendPasswordResetEmail(address, name, link); err != nil {
		s.logger.Warn("send password reset email", zap.String("to", address), zap.Error(err))
	}
}

// publish announces a committed write. Delivery problems are logged and never
// fail the request that made the write.
func (s *Service) publish(ctx context.Context, table string, kind realtime.ChangeType, session Session, projectID string, record any) {
	if s.events == nil {
		return
	}
	change := realtime.NewChange(table, kind, projectID, record)
	change.CompanyID = session.CompanyID
	if err := s.events.Publish(context.WithoutCancel(ctx), change); err != nil {
		s.logger.Warn("publish change",
			zap.String("table", table),
			zap.String("type", string(kind)),
			zap.Error(err),
		)
	}
}
