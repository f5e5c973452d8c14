package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) ListStakeholders(ctx context.Context, projectID string) ([]Stakeholder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, company, role, email, phone
		FROM stakeholders
		WHERE project_id=$1
		ORDER BY name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stakeholders: %w", err)
	}
	defer rows.Close()

	items := make([]Stakeholder, 0)
	for rows.Next() {
		var item Stakeholder
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Company, &item.Role, &item.Email, &item.Phone); err != nil {
			return nil, fmt.Errorf("scan stakeholder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stakeholders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertStakeholder(ctx context.Context, item Stakeholder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stakeholders (id, project_id, name, company, role, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ProjectID, item.Name, item.Company, item.Role, item.Email, item.Phone)
	if err != nil {
		return fmt.Errorf("insert stakeholder: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStakeholder(ctx context.Context, projectID, stakeholderID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stakeholders WHERE project_id=$1 AND id=$2`, projectID, stakeholderID)
	if err != nil {
		return fmt.Errorf("delete stakeholder: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) ListVendors(ctx context.Context, companyID string) ([]Vendor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, trade_category, contact_name, email, phone
		FROM vendors
		WHERE company_id=$1
		ORDER BY name
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	items := make([]Vendor, 0)
	for rows.Next() {
		var item Vendor
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Name, &item.TradeCategory, &item.ContactName, &item.Email, &item.Phone); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendors: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVendor(ctx context.Context, vendorID string) (Vendor, error) {
	var item Vendor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, trade_category, contact_name, email, phone
		FROM vendors WHERE id=$1
	`, vendorID).Scan(&item.ID, &item.CompanyID, &item.Name, &item.TradeCategory, &item.ContactName, &item.Email, &item.Phone)
	if err != nil {
		return Vendor{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertVendor(ctx context.Context, item Vendor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendors (id, company_id, name, trade_category, contact_name, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.CompanyID, item.Name, item.TradeCategory, item.ContactName, item.Email, item.Phone)
	if err != nil {
		return fmt.Errorf("insert vendor: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteVendor(ctx context.Context, companyID, vendorID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vendors WHERE company_id=$1 AND id=$2`, companyID, vendorID)
	if err != nil {
		return fmt.Errorf("delete vendor: %w", err)
	}
	return requireAffected(res)
}
