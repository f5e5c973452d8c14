package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"

	"buildtrack/api/internal/analysis"
	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/storage"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"

	"go.uber.org/zap"
)

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type DocumentInput struct {
	Name     string
	Category string
	File     Upload
}

func (s *Service) requireObjects() error {
	if s.objects == nil {
		return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	return nil
}

func bucketAction(bucket string) rbac.Action {
	if bucket == storage.BucketContracts {
		return rbac.ActionManage
	}
	return rbac.ActionWrite
}

func contentTypeOr(value string) string {
	if strings.TrimSpace(value) == "" {
		return "application/octet-stream"
	}
	return value
}

// UploadObject stores a file under the project's prefix, or the company's
// when no project is named.
func (s *Service) UploadObject(ctx context.Context, session Session, bucket, projectID string, file Upload) (storage.Object, error) {
	if !storage.ValidBucket(bucket) {
		return storage.Object{}, storage.ErrUnknownBucket
	}
	if err := s.authorize(session, bucketAction(bucket)); err != nil {
		return storage.Object{}, err
	}
	if err := s.requireObjects(); err != nil {
		return storage.Object{}, err
	}
	prefix := session.CompanyID
	if strings.TrimSpace(projectID) != "" {
		project, err := s.projectFor(ctx, session, projectID)
		if err != nil {
			return storage.Object{}, err
		}
		prefix = project.ID
	} else if err := s.requireCompany(session); err != nil {
		return storage.Object{}, err
	}
	key := storage.ObjectKey(prefix, file.Filename)
	return s.objects.Upload(ctx, bucket, key, file.Body, file.Size, contentTypeOr(file.ContentType))
}

// DownloadObject streams an object. The key's first segment must be the
// caller's company or one of its projects.
func (s *Service) DownloadObject(ctx context.Context, session Session, bucket, key string) (io.ReadCloser, storage.Object, error) {
	if !storage.ValidBucket(bucket) {
		return nil, storage.Object{}, storage.ErrUnknownBucket
	}
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, storage.Object{}, err
	}
	if err := s.requireObjects(); err != nil {
		return nil, storage.Object{}, err
	}
	if !storage.ValidKey(key) {
		return nil, storage.Object{}, notFound("Object not found")
	}
	prefix, _, _ := strings.Cut(key, "/")
	if prefix != session.CompanyID || session.CompanyID == "" {
		if _, err := s.projectFor(ctx, session, prefix); err != nil {
			return nil, storage.Object{}, notFound("Object not found")
		}
	}
	return s.objects.Download(ctx, bucket, key)
}

func (s *Service) documentFor(ctx context.Context, session Session, projectID, documentID string) (store.ProjectDocument, store.Project, error) {
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.ProjectDocument{}, store.Project{}, err
	}
	doc, err := s.store.GetProjectDocument(ctx, strings.TrimSpace(documentID))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && doc.ProjectID != project.ID) {
		return store.ProjectDocument{}, store.Project{}, notFound("Document not found")
	}
	return doc, project, err
}

func (s *Service) ListDocuments(ctx context.Context, session Session, projectID string) ([]store.ProjectDocument, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListProjectDocuments(ctx, project.ID)
}

func (s *Service) GetDocument(ctx context.Context, session Session, projectID, documentID string) (store.ProjectDocument, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.ProjectDocument{}, err
	}
	doc, _, err := s.documentFor(ctx, session, projectID, documentID)
	return doc, err
}

// UploadDocument stores the file in the documents bucket and records it as
// pending analysis.
func (s *Service) UploadDocument(ctx context.Context, session Session, projectID string, input DocumentInput) (store.ProjectDocument, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.ProjectDocument{}, err
	}
	if err := s.requireObjects(); err != nil {
		return store.ProjectDocument{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.ProjectDocument{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = strings.TrimSpace(input.File.Filename)
	}
	if name == "" {
		return store.ProjectDocument{}, validationError("a file name is required")
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" {
		category = store.DefaultDocCategory
	}

	obj, err := s.objects.Upload(ctx, storage.BucketDocuments, storage.ObjectKey(project.ID, name), input.File.Body, input.File.Size, contentTypeOr(input.File.ContentType))
	if err != nil {
		return store.ProjectDocument{}, err
	}
	created, err := s.store.InsertProjectDocument(ctx, store.ProjectDocument{
		ID:               util.NewID("doc"),
		ProjectID:        project.ID,
		CompanyID:        project.CompanyID,
		Name:             name,
		Category:         category,
		Bucket:           obj.Bucket,
		ObjectKey:        obj.Key,
		SizeBytes:        obj.Size,
		ContentType:      obj.ContentType,
		ProcessingStatus: store.ProcessingPending,
		UploadedBy:       session.UserID,
	})
	if err != nil {
		if rmErr := s.objects.Remove(context.WithoutCancel(ctx), obj.Bucket, obj.Key); rmErr != nil {
			s.logger.Warn("remove orphaned upload", zap.String("key", obj.Key), zap.Error(rmErr))
		}
		return store.ProjectDocument{}, err
	}
	s.publish(ctx, "project_documents", realtime.Insert, session, project.ID, created)
	return created, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, projectID, documentID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	doc, project, err := s.documentFor(ctx, session, projectID, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProjectDocument(ctx, project.ID, doc.ID); err != nil {
		return err
	}
	if s.objects != nil && doc.ObjectKey != "" {
		if err := s.objects.Remove(ctx, doc.Bucket, doc.ObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("remove document object", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	s.publish(ctx, "project_documents", realtime.Delete, session, project.ID, map[string]string{"id": doc.ID})
	return nil
}

// RunAnalysis runs sync-project-knowledge for a document of the caller's
// company. Failures come back as *analysis.Error.
func (s *Service) RunAnalysis(ctx context.Context, session Session, req analysis.Request) (analysis.Response, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return analysis.Response{}, &analysis.Error{Status: http.StatusForbidden, Message: "forbidden"}
	}
	if s.analysis == nil {
		return analysis.Response{}, &analysis.Error{Status: http.StatusServiceUnavailable, Message: "document analysis is not configured"}
	}
	if company := strings.TrimSpace(req.CompanyID); company != "" && company != session.CompanyID {
		return analysis.Response{}, &analysis.Error{Status: http.StatusNotFound, Message: "document not found"}
	}
	return s.analysis.Run(ctx, req)
}

// Subscribe opens a change feed for one project. The caller must Close the
// subscription.
func (s *Service) Subscribe(ctx context.Context, session Session, projectID string, tables []string) (*realtime.Subscription, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.changes == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Change feed is not configured", nil)
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.changes.Subscribe(realtime.Filter{
		ProjectID: project.ID,
		CompanyID: project.CompanyID,
		Tables:    tables,
	}), nil
}
