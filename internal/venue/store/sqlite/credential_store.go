package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

const credentialColumns = `
  c.credential_id, c.tenant_id, c.name, c.first_name, c.last_name, c.ticket_type,
  COALESCE(c.qr_code, ''), COALESCE(c.rfid_code, ''), COALESCE(c.barcode, ''), COALESCE(c.external_uuid, ''),
  c.status, c.validity, c.start_date_ms, c.end_date_ms,
  COALESCE(c.slot_start, ''), COALESCE(c.slot_end, ''), COALESCE(c.duration_minutes, 0),
  c.first_scan_at_ms, c.access_area_id, c.version,
  g.grant_id, COALESCE(g.name, ''), COALESCE(g.allow_reentry, 0)`

func (s *CredentialStore) CredentialByCode(ctx context.Context, code string) (store.Credential, bool, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return store.Credential{}, false, err
	}
	if code == "" {
		return store.Credential{}, false, nil
	}

	row := s.db.QueryRowContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials c
LEFT JOIN grants g ON g.grant_id = c.grant_id
WHERE c.tenant_id = ?
  AND (c.qr_code = ? OR c.rfid_code = ? OR c.barcode = ? OR c.external_uuid = ?)
ORDER BY c.credential_id
LIMIT 1;
`, tid, code, code, code, code)

	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Credential{}, false, nil
	}
	if err != nil {
		return store.Credential{}, false, fmt.Errorf("CredentialByCode query: %w", err)
	}
	return c, true, nil
}

func (s *CredentialStore) ActiveCredentials(ctx context.Context, areaIDs []int64) ([]store.Credential, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}

	areaCond := "1=1"
	var areaArgs []any
	if len(areaIDs) > 0 {
		in, args := inClause("c.access_area_id", areaIDs)
		areaCond = "(" + in + " OR c.access_area_id IS NULL)"
		areaArgs = args
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials c
LEFT JOIN grants g ON g.grant_id = c.grant_id
WHERE c.tenant_id = ?
  AND c.status IN ('VALID', 'REDEEMED')
  AND `+areaCond+`
ORDER BY c.name, c.credential_id;
`, append([]any{tid}, areaArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("ActiveCredentials query: %w", err)
	}
	defer rows.Close()

	var out []store.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("ActiveCredentials scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCredential(r rowScanner) (store.Credential, error) {
	var (
		c                     store.Credential
		status, validity      string
		start, end, firstScan sql.NullInt64
		areaID, grantID       sql.NullInt64
		grantName             string
		grantReentry          int
	)
	err := r.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.FirstName, &c.LastName, &c.TicketType,
		&c.QRCode, &c.RFIDCode, &c.Barcode, &c.ExternalUUID,
		&status, &validity, &start, &end,
		&c.SlotStart, &c.SlotEnd, &c.DurationMinutes,
		&firstScan, &areaID, &c.Version,
		&grantID, &grantName, &grantReentry,
	)
	if err != nil {
		return store.Credential{}, err
	}
	c.Status = store.CredentialStatus(status)
	c.Validity = store.ValidityPolicy(validity)
	c.StartDate = msTime(start)
	c.EndDate = msTime(end)
	c.FirstScanAt = msTime(firstScan)
	c.AccessAreaID = nullID(areaID)
	if grantID.Valid {
		c.Grant = &store.Grant{ID: grantID.Int64, Name: grantName, AllowReentry: grantReentry == 1}
	}
	return c, nil
}
