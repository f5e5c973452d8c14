package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const projectDocumentColumns = `id, project_id, company_id, name, category, bucket, object_key, size_bytes,
	content_type, processing_status, ai_summary, ai_analysis, extracted_text, error_message, uploaded_by,
	created_at, updated_at`

func scanProjectDocument(row interface{ Scan(...any) error }) (ProjectDocument, error) {
	var d ProjectDocument
	var analysis []byte
	if err := row.Scan(&d.ID, &d.ProjectID, &d.CompanyID, &d.Name, &d.Category, &d.Bucket, &d.ObjectKey, &d.SizeBytes,
		&d.ContentType, &d.ProcessingStatus, &d.AISummary, &analysis, &d.ExtractedText, &d.ErrorMessage, &d.UploadedBy,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return ProjectDocument{}, err
	}
	if len(analysis) > 0 {
		d.AIAnalysis = json.RawMessage(analysis)
	}
	return d, nil
}

func (s *PostgresStore) ListProjectDocuments(ctx context.Context, projectID string) ([]ProjectDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectDocumentColumns+`
		FROM project_documents
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project documents: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectDocument, 0)
	for rows.Next() {
		item, err := scanProjectDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProjectDocument(ctx context.Context, documentID string) (ProjectDocument, error) {
	return scanProjectDocument(s.db.QueryRowContext(ctx, `SELECT `+projectDocumentColumns+` FROM project_documents WHERE id=$1`, documentID))
}

func (s *PostgresStore) InsertProjectDocument(ctx context.Context, d ProjectDocument) (ProjectDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO project_documents (id, project_id, company_id, name, category, bucket, object_key, size_bytes, content_type, processing_status, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+projectDocumentColumns,
		d.ID, d.ProjectID, d.CompanyID, d.Name, d.Category, d.Bucket, d.ObjectKey, d.SizeBytes, d.ContentType,
		d.ProcessingStatus, d.UploadedBy)
	created, err := scanProjectDocument(row)
	if err != nil {
		return ProjectDocument{}, fmt.Errorf("insert project document: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) DeleteProjectDocument(ctx context.Context, projectID, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_documents WHERE project_id=$1 AND id=$2`, projectID, documentID)
	if err != nil {
		return fmt.Errorf("delete project document: %w", err)
	}
	return requireAffected(res)
}

// MarkDocumentProcessing sets processing status and clears any previous error.
func (s *PostgresStore) MarkDocumentProcessing(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_documents SET processing_status='processing', error_message='', updated_at=NOW()
		WHERE id=$1
	`, documentID)
	if err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) CompleteDocumentAnalysis(ctx context.Context, documentID, summary string, analysis json.RawMessage, extractedText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_documents
		SET processing_status='completed', ai_summary=$2, ai_analysis=$3, extracted_text=$4, error_message='', updated_at=NOW()
		WHERE id=$1
	`, documentID, summary, []byte(analysis), extractedText)
	if err != nil {
		return fmt.Errorf("complete document analysis: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) FailDocumentAnalysis(ctx context.Context, documentID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE project_documents SET processing_status='failed', error_message=$2, updated_at=NOW()
		WHERE id=$1
	`, documentID, message)
	if err != nil {
		return fmt.Errorf("fail document analysis: %w", err)
	}
	return nil
}
