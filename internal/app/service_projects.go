package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/search"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"
)

type ProjectInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

type StakeholderInput struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	Role    string `json:"role"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

type VendorInput struct {
	Name          string `json:"name"`
	TradeCategory string `json:"tradeCategory"`
	ContactName   string `json:"contactName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
}

var allowedProjectStatuses = map[string]struct{}{
	"planning":  {},
	"active":    {},
	"on_hold":   {},
	"completed": {},
	"archived":  {},
}

// projectFor loads a project the session's company owns. Projects of other
// companies are reported as missing.
func (s *Service) projectFor(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, strings.TrimSpace(projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFound("Project not found")
	}
	if err != nil {
		return store.Project{}, err
	}
	if session.CompanyID == "" || project.CompanyID != session.CompanyID {
		return store.Project{}, notFound("Project not found")
	}
	return project, nil
}

func (s *Service) requireCompany(session Session) error {
	if session.CompanyID == "" {
		return validationError("your account is not attached to a company")
	}
	return nil
}

func normalizeProjectInput(input ProjectInput) (ProjectInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Address = strings.TrimSpace(input.Address)
	input.Status = strings.ToLower(strings.TrimSpace(input.Status))
	if input.Name == "" {
		return input, validationError("name is required")
	}
	if input.Status == "" {
		input.Status = store.DefaultProjectStatus
	}
	if _, ok := allowedProjectStatuses[input.Status]; !ok {
		return input, validationError("status must be planning, active, on_hold, completed or archived")
	}
	return input, nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) ([]store.Project, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if session.CompanyID == "" {
		return []store.Project{}, nil
	}
	return s.store.ListProjects(ctx, session.CompanyID)
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.Project{}, err
	}
	return s.projectFor(ctx, session, projectID)
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionManage); err != nil {
		return store.Project{}, err
	}
	if err := s.requireCompany(session); err != nil {
		return store.Project{}, err
	}
	input, err := normalizeProjectInput(input)
	if err != nil {
		return store.Project{}, err
	}
	created, err := s.store.InsertProject(ctx, store.Project{
		ID:        util.NewID("prj"),
		CompanyID: session.CompanyID,
		Name:      input.Name,
		Address:   input.Address,
		Status:    input.Status,
	})
	if err != nil {
		return store.Project{}, err
	}
	s.indexProject(created)
	s.publish(ctx, "projects", realtime.Insert, session, created.ID, created)
	return created, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionManage); err != nil {
		return store.Project{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Project{}, err
	}
	input, err = normalizeProjectInput(input)
	if err != nil {
		return store.Project{}, err
	}
	project.Name = input.Name
	project.Address = input.Address
	project.Status = input.Status
	updated, err := s.store.UpdateProject(ctx, project)
	if err != nil {
		return store.Project{}, err
	}
	s.indexProject(updated)
	s.publish(ctx, "projects", realtime.Update, session, updated.ID, updated)
	return updated, nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if err := s.authorize(session, rbac.ActionManage); err != nil {
		return err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(project.ID)
	}
	s.publish(ctx, "projects", realtime.Delete, session, project.ID, map[string]string{"id": project.ID})
	return nil
}

func (s *Service) ProjectSummary(ctx context.Context, session Session, projectID string) (store.ProjectSummary, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.ProjectSummary{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.ProjectSummary{}, err
	}
	return s.store.ProjectSummary(ctx, project.ID)
}

func (s *Service) indexProject(p store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:        p.ID,
		CompanyID: p.CompanyID,
		Name:      p.Name,
		Address:   p.Address,
		Status:    p.Status,
	})
}

func (s *Service) ListStakeholders(ctx context.Context, session Session, projectID string) ([]store.Stakeholder, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListStakeholders(ctx, project.ID)
}

func (s *Service) CreateStakeholder(ctx context.Context, session Session, projectID string, input StakeholderInput) (store.Stakeholder, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Stakeholder{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Stakeholder{}, err
	}
	item := store.Stakeholder{
		ID:        util.NewID("stk"),
		ProjectID: project.ID,
		Name:      strings.TrimSpace(input.Name),
		Company:   strings.TrimSpace(input.Company),
		Role:      strings.TrimSpace(input.Role),
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:     strings.TrimSpace(input.Phone),
	}
	if item.Name == "" {
		return store.Stakeholder{}, validationError("name is required")
	}
	if err := s.store.InsertStakeholder(ctx, item); err != nil {
		return store.Stakeholder{}, err
	}
	s.publish(ctx, "stakeholders", realtime.Insert, session, project.ID, item)
	return item, nil
}

func (s *Service) DeleteStakeholder(ctx context.Context, session Session, projectID, stakeholderID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteStakeholder(ctx, project.ID, stakeholderID); err != nil {
		return err
	}
	s.publish(ctx, "stakeholders", realtime.Delete, session, project.ID, map[string]string{"id": stakeholderID})
	return nil
}

func (s *Service) ListVendors(ctx context.Context, session Session) ([]store.Vendor, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if session.CompanyID == "" {
		return []store.Vendor{}, nil
	}
	return s.store.ListVendors(ctx, session.CompanyID)
}

func (s *Service) CreateVendor(ctx context.Context, session Session, input VendorInput) (store.Vendor, error) {
	if err := s.authorize(session, rbac.ActionManage); err != nil {
		return store.Vendor{}, err
	}
	if err := s.requireCompany(session); err != nil {
		return store.Vendor{}, err
	}
	item := store.Vendor{
		ID:            util.NewID("ven"),
		CompanyID:     session.CompanyID,
		Name:          strings.TrimSpace(input.Name),
		TradeCategory: strings.TrimSpace(input.TradeCategory),
		ContactName:   strings.TrimSpace(input.ContactName),
		Email:         strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:         strings.TrimSpace(input.Phone),
	}
	if item.Name == "" {
		return store.Vendor{}, validationError("name is required")
	}
	if err := s.store.InsertVendor(ctx, item); err != nil {
		return store.Vendor{}, err
	}
	if s.search != nil {
		s.search.IndexVendor(search.VendorRecord{
			ID:            item.ID,
			CompanyID:     item.CompanyID,
			Name:          item.Name,
			TradeCategory: item.TradeCategory,
			ContactName:   item.ContactName,
		})
	}
	s.publish(ctx, "vendors", realtime.Insert, session, "", item)
	return item, nil
}

func (s *Service) DeleteVendor(ctx context.Context, session Session, vendorID string) error {
	if err := s.authorize(session, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.store.DeleteVendor(ctx, session.CompanyID, vendorID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteVendor(vendorID)
	}
	s.publish(ctx, "vendors", realtime.Delete, session, "", map[string]string{"id": vendorID})
	return nil
}

// vendorFor loads a vendor from the session's company directory.
func (s *Service) vendorFor(ctx context.Context, session Session, vendorID string) (store.Vendor, error) {
	vendor, err := s.store.GetVendor(ctx, strings.TrimSpace(vendorID))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && vendor.CompanyID != session.CompanyID) {
		return store.Vendor{}, validationError("vendorId does not match a vendor in your directory")
	}
	return vendor, err
}

func (s *Service) Search(session Session, q search.Query) (search.Response, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	q.CompanyID = session.CompanyID
	return s.search.Search(q), nil
}
