package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// errorPreviewCap bounds the per-row errors echoed back; the full count is
// always reported.
const errorPreviewCap = 10

type missingPersonRow struct {
	CaseID             string  `json:"case_id"`
	Name               string  `json:"name"`
	AgeAtDisappearance *int    `json:"age_at_disappearance,omitempty"`
	DisappearanceDate  *string `json:"disappearance_date,omitempty"`
	LastKnownLocation  *string `json:"last_known_location,omitempty"`
	Status             string  `json:"status,omitempty"`
}

type loyaltyMemberRow struct {
	MemberCode string  `json:"member_code"`
	Name       string  `json:"name"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
}

// ImportMissingPersons ingests a CSV or JSON batch. Rows collide on case id:
// an existing record is updated in place, and a row without a photo never
// clobbers a previously encoded vector. Bad rows are skipped and reported.
func (h *ServiceHandler) ImportMissingPersons(ctx context.Context, format string, r io.Reader) (*api.ImportResult, error) {
	rows, parseErrs, err := parseMissingPersonRows(format, r)
	if err != nil {
		return nil, err
	}

	result := &api.ImportResult{}
	addError := func(row int, msg string) {
		result.ErrorsTotal++
		if len(result.ErrorsPreview) < errorPreviewCap {
			result.ErrorsPreview = append(result.ErrorsPreview, api.ImportError{Row: row, Error: msg})
		}
	}
	for _, pe := range parseErrs {
		addError(pe.Row, pe.Error)
	}

	for i, row := range rows {
		rowNum := i + 1
		if row.CaseID == "" || row.Name == "" {
			addError(rowNum, "case_id and name are required")
			result.Skipped++
			continue
		}
		status := row.Status
		if status == "" {
			status = string(api.MissingPersonActive)
		}
		if status != string(api.MissingPersonActive) && status != string(api.MissingPersonResolved) {
			addError(rowNum, fmt.Sprintf("unknown status %q", row.Status))
			result.Skipped++
			continue
		}
		var disappeared *time.Time
		if row.DisappearanceDate != nil && *row.DisappearanceDate != "" {
			parsed, err := parseDate(*row.DisappearanceDate)
			if err != nil {
				addError(rowNum, fmt.Sprintf("invalid disappearance_date %q", *row.DisappearanceDate))
				result.Skipped++
				continue
			}
			disappeared = &parsed
		}

		created, err := h.store.Encoding().UpsertMissingPersonByCase(ctx, &model.MissingPerson{
			CaseID:             row.CaseID,
			Name:               row.Name,
			AgeAtDisappearance: row.AgeAtDisappearance,
			DisappearanceDate:  disappeared,
			LastKnownLocation:  row.LastKnownLocation,
			Status:             status,
			FeatureVector:      h.zeroVector(),
			PendingPhoto:       true,
		})
		if err != nil {
			addError(rowNum, err.Error())
			result.Skipped++
			continue
		}
		if created {
			result.Imported++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// ImportLoyaltyMembers ingests a CSV or JSON batch for one tenant, colliding
// on member code.
func (h *ServiceHandler) ImportLoyaltyMembers(ctx context.Context, tenantID uuid.UUID, format string, r io.Reader) (*api.ImportResult, error) {
	if _, err := h.store.Tenant().Get(ctx, tenantID); err != nil {
		return nil, err
	}
	rows, parseErrs, err := parseLoyaltyMemberRows(format, r)
	if err != nil {
		return nil, err
	}

	result := &api.ImportResult{}
	addError := func(row int, msg string) {
		result.ErrorsTotal++
		if len(result.ErrorsPreview) < errorPreviewCap {
			result.ErrorsPreview = append(result.ErrorsPreview, api.ImportError{Row: row, Error: msg})
		}
	}
	for _, pe := range parseErrs {
		addError(pe.Row, pe.Error)
	}

	for i, row := range rows {
		rowNum := i + 1
		if row.MemberCode == "" || row.Name == "" {
			addError(rowNum, "member_code and name are required")
			result.Skipped++
			continue
		}
		created, err := h.store.Encoding().UpsertLoyaltyMemberByCode(ctx, &model.LoyaltyMember{
			TenantID:      tenantID,
			MemberCode:    row.MemberCode,
			Name:          row.Name,
			Email:         row.Email,
			Phone:         row.Phone,
			FeatureVector: h.zeroVector(),
			PendingPhoto:  true,
		})
		if err != nil {
			addError(rowNum, err.Error())
			result.Skipped++
			continue
		}
		if created {
			result.Imported++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// --- parsing ---

func parseMissingPersonRows(format string, r io.Reader) ([]missingPersonRow, []api.ImportError, error) {
	switch strings.ToLower(format) {
	case "json":
		var rows []missingPersonRow
		if err := json.NewDecoder(r).Decode(&rows); err != nil {
			return nil, nil, skzerrors.InvalidInputf("decoding json import: %s", err.Error())
		}
		return rows, nil, nil
	case "csv", "":
		return parseMissingPersonCSV(r)
	default:
		return nil, nil, skzerrors.InvalidInputf("unknown import format %q", format)
	}
}

func parseMissingPersonCSV(r io.Reader) ([]missingPersonRow, []api.ImportError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, nil, skzerrors.InvalidInputf("reading csv header: %s", err.Error())
	}
	cols := columnIndex(header)
	if _, ok := cols["case_id"]; !ok {
		return nil, nil, skzerrors.InvalidInputf("csv is missing a case_id column")
	}

	var rows []missingPersonRow
	var parseErrs []api.ImportError
	for rowNum := 1; ; rowNum++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			parseErrs = append(parseErrs, api.ImportError{Row: rowNum, Error: err.Error()})
			continue
		}
		row := missingPersonRow{
			CaseID: cell(fields, cols, "case_id"),
			Name:   cell(fields, cols, "name"),
			Status: cell(fields, cols, "status"),
		}
		if v := cell(fields, cols, "age_at_disappearance"); v != "" {
			age, err := strconv.Atoi(v)
			if err == nil {
				row.AgeAtDisappearance = &age
			}
		}
		if v := cell(fields, cols, "disappearance_date"); v != "" {
			row.DisappearanceDate = &v
		}
		if v := cell(fields, cols, "last_known_location"); v != "" {
			row.LastKnownLocation = &v
		}
		rows = append(rows, row)
	}
	return rows, parseErrs, nil
}

func parseLoyaltyMemberRows(format string, r io.Reader) ([]loyaltyMemberRow, []api.ImportError, error) {
	switch strings.ToLower(format) {
	case "json":
		var rows []loyaltyMemberRow
		if err := json.NewDecoder(r).Decode(&rows); err != nil {
			return nil, nil, skzerrors.InvalidInputf("decoding json import: %s", err.Error())
		}
		return rows, nil, nil
	case "csv", "":
		return parseLoyaltyMemberCSV(r)
	default:
		return nil, nil, skzerrors.InvalidInputf("unknown import format %q", format)
	}
}

func parseLoyaltyMemberCSV(r io.Reader) ([]loyaltyMemberRow, []api.ImportError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, nil, skzerrors.InvalidInputf("reading csv header: %s", err.Error())
	}
	cols := columnIndex(header)
	if _, ok := cols["member_code"]; !ok {
		return nil, nil, skzerrors.InvalidInputf("csv is missing a member_code column")
	}

	var rows []loyaltyMemberRow
	var parseErrs []api.ImportError
	for rowNum := 1; ; rowNum++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			parseErrs = append(parseErrs, api.ImportError{Row: rowNum, Error: err.Error()})
			continue
		}
		row := loyaltyMemberRow{
			MemberCode: cell(fields, cols, "member_code"),
			Name:       cell(fields, cols, "name"),
		}
		if v := cell(fields, cols, "email"); v != "" {
			row.Email = &v
		}
		if v := cell(fields, cols, "phone"); v != "" {
			row.Phone = &v
		}
		rows = append(rows, row)
	}
	return rows, parseErrs, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func cell(fields []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
