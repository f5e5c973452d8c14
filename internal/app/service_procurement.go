package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"buildtrack/api/internal/email"
	"buildtrack/api/internal/procurement"
	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"

	"go.uber.org/zap"
)

type RFQInput struct {
	Title         string `json:"title"`
	TradeCategory string `json:"tradeCategory"`
	DueDate       string `json:"dueDate"`
}

type QuoteInput struct {
	VendorID    string `json:"vendorId"`
	AmountCents int64  `json:"amountCents"`
	Notes       string `json:"notes"`
}

// QuoteDecisionInput approves or rejects a quote. CreateCommitment turns an
// approved quote into a Draft commitment for the quoting vendor.
type QuoteDecisionInput struct {
	Status           string `json:"status"`
	CreateCommitment bool   `json:"createCommitment"`
	CommitmentTitle  string `json:"commitmentTitle"`
}

type CommitmentInput struct {
	VendorID   string `json:"vendorId"`
	RFQID      string `json:"rfqId"`
	Title      string `json:"title"`
	ValueCents int64  `json:"valueCents"`
}

type TransitionInput struct {
	Status string `json:"status"`
}

type ApprovalInput struct {
	ProjectID   string `json:"projectId"`
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId"`
	ApproverID  string `json:"approverId"`
	Note        string `json:"note"`
}

type ApprovalDecisionInput struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func parseTargetStatus(value string) (procurement.Status, error) {
	status, ok := procurement.ParseStatus(value)
	if !ok {
		return "", validationError("status is not a known procurement status")
	}
	return status, nil
}

func (s *Service) rfqFor(ctx context.Context, session Session, rfqID string) (store.RFQ, store.Project, error) {
	rfq, err := s.store.GetRFQ(ctx, strings.TrimSpace(rfqID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.RFQ{}, store.Project{}, notFound("RFQ not found")
	}
	if err != nil {
		return store.RFQ{}, store.Project{}, err
	}
	project, err := s.projectFor(ctx, session, rfq.ProjectID)
	if err != nil {
		return store.RFQ{}, store.Project{}, notFound("RFQ not found")
	}
	return rfq, project, nil
}

func (s *Service) ListRFQs(ctx context.Context, session Session, projectID string) ([]store.RFQ, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRFQs(ctx, project.ID)
}

func (s *Service) CreateRFQ(ctx context.Context, session Session, projectID string, input RFQInput) (store.RFQ, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.RFQ{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.RFQ{}, err
	}
	rfq := store.RFQ{
		ID:            util.NewID("rfq"),
		ProjectID:     project.ID,
		Title:         strings.TrimSpace(input.Title),
		TradeCategory: strings.TrimSpace(input.TradeCategory),
		Status:        string(procurement.Initial(procurement.KindRFQ)),
	}
	if rfq.Title == "" {
		return store.RFQ{}, validationError("title is required")
	}
	if strings.TrimSpace(input.DueDate) != "" {
		due, err := parseDate("dueDate", input.DueDate)
		if err != nil {
			return store.RFQ{}, err
		}
		rfq.DueDate = &due
	}
	created, err := s.store.InsertRFQ(ctx, rfq)
	if err != nil {
		return store.RFQ{}, err
	}
	s.publish(ctx, "rfqs", realtime.Insert, session, project.ID, created)
	return created, nil
}

func (s *Service) TransitionRFQ(ctx context.Context, session Session, rfqID string, input TransitionInput) (store.RFQ, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.RFQ{}, err
	}
	to, err := parseTargetStatus(input.Status)
	if err != nil {
		return store.RFQ{}, err
	}
	rfq, project, err := s.rfqFor(ctx, session, rfqID)
	if err != nil {
		return store.RFQ{}, err
	}
	if err := procurement.Transition(procurement.KindRFQ, procurement.Status(rfq.Status), to); err != nil {
		return store.RFQ{}, err
	}
	updated, err := s.store.UpdateRFQStatus(ctx, rfq.ID, rfq.Status, string(to))
	if err != nil {
		return store.RFQ{}, err
	}
	s.publish(ctx, "rfqs", realtime.Update, session, project.ID, updated)
	return updated, nil
}

func (s *Service) ListQuotes(ctx context.Context, session Session, rfqID string) ([]store.Quote, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	rfq, _, err := s.rfqFor(ctx, session, rfqID)
	if err != nil {
		return nil, err
	}
	return s.store.ListQuotes(ctx, rfq.ID)
}

func (s *Service) CreateQuote(ctx context.Context, session Session, rfqID string, input QuoteInput) (store.Quote, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Quote{}, err
	}
	rfq, project, err := s.rfqFor(ctx, session, rfqID)
	if err != nil {
		return store.Quote{}, err
	}
	if input.AmountCents < 0 {
		return store.Quote{}, validationError("amountCents must not be negative")
	}
	if procurement.Terminal(procurement.KindRFQ, procurement.Status(rfq.Status)) {
		return store.Quote{}, validationError("quotes cannot be added to a closed RFQ")
	}
	vendor, err := s.vendorFor(ctx, session, input.VendorID)
	if err != nil {
		return store.Quote{}, err
	}
	created, err := s.store.InsertQuote(ctx, store.Quote{
		ID:          util.NewID("quo"),
		RFQID:       rfq.ID,
		VendorID:    vendor.ID,
		AmountCents: input.AmountCents,
		Notes:       strings.TrimSpace(input.Notes),
		Status:      string(procurement.Initial(procurement.KindQuote)),
	})
	if err != nil {
		return store.Quote{}, err
	}
	s.publish(ctx, "quotes", realtime.Insert, session, project.ID, created)
	return created, nil
}

// DecideQuote approves or rejects a pending quote. An approval may open a
// Draft commitment in the same transaction.
func (s *Service) DecideQuote(ctx context.Context, session Session, quoteID string, input QuoteDecisionInput) (store.Quote, *store.Commitment, error) {
	if err := s.authorize(session, rbac.ActionApprove); err != nil {
		return store.Quote{}, nil, err
	}
	to, err := parseTargetStatus(input.Status)
	if err != nil {
		return store.Quote{}, nil, err
	}
	quote, err := s.store.GetQuote(ctx, strings.TrimSpace(quoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Quote{}, nil, notFound("Quote not found")
	}
	if err != nil {
		return store.Quote{}, nil, err
	}
	rfq, project, err := s.rfqFor(ctx, session, quote.RFQID)
	if err != nil {
		return store.Quote{}, nil, notFound("Quote not found")
	}
	if err := procurement.Transition(procurement.KindQuote, procurement.Status(quote.Status), to); err != nil {
		return store.Quote{}, nil, err
	}

	var commitment *store.Commitment
	if to == procurement.StatusApproved && input.CreateCommitment {
		title := strings.TrimSpace(input.CommitmentTitle)
		if title == "" {
			title = rfq.Title
		}
		commitment = &store.Commitment{
			ID:         util.NewID("cmt"),
			ProjectID:  project.ID,
			VendorID:   quote.VendorID,
			RFQID:      rfq.ID,
			Title:      title,
			ValueCents: quote.AmountCents,
			Status:     string(procurement.Initial(procurement.KindCommitment)),
		}
	}

	decided, err := s.store.DecideQuote(ctx, quote.ID, quote.Status, string(to), commitment)
	if err != nil {
		return store.Quote{}, nil, err
	}
	s.publish(ctx, "quotes", realtime.Update, session, project.ID, decided)
	if commitment != nil {
		s.publish(ctx, "commitments", realtime.Insert, session, project.ID, commitment)
	}
	return decided, commitment, nil
}

func (s *Service) ListCommitments(ctx context.Context, session Session, projectID string) ([]store.Commitment, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListCommitments(ctx, project.ID)
}

func (s *Service) CreateCommitment(ctx context.Context, session Session, projectID string, input CommitmentInput) (store.Commitment, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Commitment{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Commitment{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Commitment{}, validationError("title is required")
	}
	if input.ValueCents < 0 {
		return store.Commitment{}, validationError("valueCents must not be negative")
	}
	vendor, err := s.vendorFor(ctx, session, input.VendorID)
	if err != nil {
		return store.Commitment{}, err
	}
	rfqID := strings.TrimSpace(input.RFQID)
	if rfqID != "" {
		rfq, _, err := s.rfqFor(ctx, session, rfqID)
		if err != nil || rfq.ProjectID != project.ID {
			return store.Commitment{}, validationError("rfqId does not match an RFQ in this project")
		}
	}
	created, err := s.store.InsertCommitment(ctx, store.Commitment{
		ID:         util.NewID("cmt"),
		ProjectID:  project.ID,
		VendorID:   vendor.ID,
		RFQID:      rfqID,
		Title:      title,
		ValueCents: input.ValueCents,
		Status:     string(procurement.Initial(procurement.KindCommitment)),
	})
	if err != nil {
		return store.Commitment{}, err
	}
	s.publish(ctx, "commitments", realtime.Insert, session, project.ID, created)
	return created, nil
}

func (s *Service) TransitionCommitment(ctx context.Context, session Session, commitmentID string, input TransitionInput) (store.Commitment, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Commitment{}, err
	}
	to, err := parseTargetStatus(input.Status)
	if err != nil {
		return store.Commitment{}, err
	}
	commitment, err := s.store.GetCommitment(ctx, strings.TrimSpace(commitmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Commitment{}, notFound("Commitment not found")
	}
	if err != nil {
		return store.Commitment{}, err
	}
	project, err := s.projectFor(ctx, session, commitment.ProjectID)
	if err != nil {
		return store.Commitment{}, notFound("Commitment not found")
	}
	if err := procurement.Transition(procurement.KindCommitment, procurement.Status(commitment.Status), to); err != nil {
		return store.Commitment{}, err
	}
	updated, err := s.store.UpdateCommitmentStatus(ctx, commitment.ID, commitment.Status, string(to))
	if err != nil {
		return store.Commitment{}, err
	}
	s.publish(ctx, "commitments", realtime.Update, session, project.ID, updated)
	return updated, nil
}

func (s *Service) ListApprovals(ctx context.Context, session Session, projectID, status string) ([]store.Approval, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if session.CompanyID == "" {
		return []store.Approval{}, nil
	}
	if projectID != "" {
		if _, err := s.projectFor(ctx, session, projectID); err != nil {
			return nil, err
		}
	}
	if status != "" {
		parsed, err := parseTargetStatus(status)
		if err != nil {
			return nil, err
		}
		status = string(parsed)
	}
	return s.store.ListApprovals(ctx, session.CompanyID, projectID, status)
}

// subjectTitle resolves the record an approval is about and checks it lives
// in the approval's project.
func (s *Service) subjectTitle(ctx context.Context, session Session, projectID, subjectType, subjectID string) (string, error) {
	switch procurement.Kind(subjectType) {
	case procurement.KindRFQ:
		rfq, _, err := s.rfqFor(ctx, session, subjectID)
		if err == nil && rfq.ProjectID == projectID {
			return rfq.Title, nil
		}
	case procurement.KindQuote:
		quote, err := s.store.GetQuote(ctx, subjectID)
		if err == nil {
			rfq, _, rfqErr := s.rfqFor(ctx, session, quote.RFQID)
			if rfqErr == nil && rfq.ProjectID == projectID {
				return fmt.Sprintf("%s quote", rfq.Title), nil
			}
		}
	case procurement.KindCommitment:
		commitment, err := s.store.GetCommitment(ctx, subjectID)
		if err == nil && commitment.ProjectID == projectID {
			return commitment.Title, nil
		}
	default:
		return "", validationError("subjectType must be rfq, quote or commitment")
	}
	return "", validationError("subjectId does not match a record in this project")
}

func (s *Service) CreateApproval(ctx context.Context, session Session, input ApprovalInput) (store.Approval, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Approval{}, err
	}
	project, err := s.projectFor(ctx, session, input.ProjectID)
	if err != nil {
		return store.Approval{}, err
	}
	subjectType := strings.ToLower(strings.TrimSpace(input.SubjectType))
	subjectID := strings.TrimSpace(input.SubjectID)
	if _, err := s.subjectTitle(ctx, session, project.ID, subjectType, subjectID); err != nil {
		return store.Approval{}, err
	}
	approverID := strings.TrimSpace(input.ApproverID)
	if approverID != "" {
		approver, err := s.store.GetUserByID(ctx, approverID)
		if err != nil || approver.CompanyID != session.CompanyID {
			return store.Approval{}, validationError("approverId does not match a user in your company")
		}
	}
	created, err := s.store.InsertApproval(ctx, store.Approval{
		ID:          util.NewID("apr"),
		ProjectID:   project.ID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		RequestedBy: session.UserID,
		ApproverID:  approverID,
		Status:      string(procurement.Initial(procurement.KindApproval)),
		Note:        strings.TrimSpace(input.Note),
	})
	if err != nil {
		return store.Approval{}, err
	}
	s.publish(ctx, "approvals", realtime.Insert, session, project.ID, created)
	return created, nil
}

// DecideApproval records a decision once. Decided approvals are immutable;
// the database rejects later edits as well.
func (s *Service) DecideApproval(ctx context.Context, session Session, approvalID string, input ApprovalDecisionInput) (store.Approval, error) {
	if err := s.authorize(session, rbac.ActionApprove); err != nil {
		return store.Approval{}, err
	}
	to, err := parseTargetStatus(input.Status)
	if err != nil {
		return store.Approval{}, err
	}
	approval, err := s.store.GetApproval(ctx, strings.TrimSpace(approvalID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Approval{}, notFound("Approval not found")
	}
	if err != nil {
		return store.Approval{}, err
	}
	project, err := s.projectFor(ctx, session, approval.ProjectID)
	if err != nil {
		return store.Approval{}, notFound("Approval not found")
	}
	if err := procurement.Transition(procurement.KindApproval, procurement.Status(approval.Status), to); err != nil {
		return store.Approval{}, err
	}
	if approval.ApproverID != "" && approval.ApproverID != session.UserID && rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return store.Approval{}, forbidden()
	}

	decided, err := s.store.DecideApproval(ctx, approval.ID, string(to), session.UserID, strings.TrimSpace(input.Note), s.now().UTC())
	if err != nil {
		return store.Approval{}, err
	}
	s.publish(ctx, "approvals", realtime.Update, session, project.ID, decided)
	s.notifyApprovalDecision(ctx, session, project, decided)
	return decided, nil
}

func (s *Service) notifyApprovalDecision(ctx context.Context, session Session, project store.Project, approval store.Approval) {
	if !s.SMTPConfigured() {
		return
	}
	requester, err := s.store.GetUserByID(ctx, approval.RequestedBy)
	if err != nil {
		s.logger.Warn("approval requester lookup", zap.String("approval_id", approval.ID), zap.Error(err))
		return
	}
	title, err := s.subjectTitle(ctx, session, project.ID, approval.SubjectType, approval.SubjectID)
	if err != nil {
		title = approval.SubjectID
	}
	link := fmt.Sprintf("%s/projects/%s/approvals", strings.TrimRight(s.cfg.AppURL, "/"), project.ID)
	if err := s.mailer.SendApprovalDecisionEmail(requester.Email, email.ApprovalDecisionData{
		UserName:     requester.DisplayName,
		ProjectName:  project.Name,
		SubjectType:  approval.SubjectType,
		SubjectTitle: title,
		Decision:     approval.Status,
		DecidedBy:    session.UserName,
		Note:         approval.Note,
		LinkURL:      link,
	}); err != nil {
		s.logger.Warn("send approval decision email", zap.String("to", requester.Email), zap.Error(err))
	}
}
