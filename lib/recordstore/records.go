package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"tradereg/lib/registry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var identityColumns = []string{
	"company_id",
	"issue_date", "reg_date",
	"cn_name", "en_name", "cn_address", "en_address",
	"representative", "tel1", "tel2", "fax",
	"old_cn_name", "old_en_name", "website", "email",
	"import_qualification", "export_qualification",
	"import_items_cn", "import_items_en", "export_items_cn", "export_items_en",
	"fetch_date", "status",
}

// every column is overwritten on conflict, a refetch replaces the record
var upsertIdentityQuery = func() string {
	updates := make([]string, 0, len(identityColumns)-1)
	for _, col := range identityColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	return fmt.Sprintf(
		"INSERT INTO company_basic (%s) VALUES (%s) ON CONFLICT (company_id) DO UPDATE SET %s",
		strings.Join(identityColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(identityColumns)), ", "),
		strings.Join(updates, ", "),
	)
}()

var selectIdentityQuery = fmt.Sprintf(
	"SELECT %s FROM company_basic WHERE company_id = ?",
	strings.Join(identityColumns, ", "),
)

const (
	markErrorQuery = `INSERT INTO company_basic (company_id, fetch_date, status) VALUES (?, ?, ?)
ON CONFLICT (company_id) DO UPDATE SET status = excluded.status, fetch_date = excluded.fetch_date`
	deleteGradesQuery = "DELETE FROM company_grade WHERE company_id = ?"
	insertGradeQuery  = `INSERT INTO company_grade (company_id, year_month, year_tw, year_ad, import_grade, export_grade, fetch_date)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	selectGradesQuery = `SELECT year_month, year_tw, year_ad, import_grade, export_grade FROM company_grade
WHERE company_id = ? ORDER BY id`
	insertErrorQuery  = "INSERT INTO scraping_errors (company_id, error_message, stack_trace, error_time) VALUES (?, ?, ?, ?)"
	selectErrorsQuery = `SELECT company_id, error_message, stack_trace, error_time FROM scraping_errors
WHERE company_id = ? ORDER BY id`
)

func (s *Store) identityArgs(rec registry.IdentityRecord) []any {
	return []any{
		rec.SubjectID.String(),
		rec.IssueDate, rec.RegistrationDate,
		rec.NameZh, rec.NameEn, rec.AddressZh, rec.AddressEn,
		rec.Representative, rec.Tel1, rec.Tel2, rec.Fax,
		rec.OldNameZh, rec.OldNameEn, rec.Website, rec.Email,
		rec.ImportQualification, rec.ExportQualification,
		rec.ImportItemsZh, rec.ImportItemsEn, rec.ExportItemsZh, rec.ExportItemsEn,
		s.timeArg(rec.FetchedAt), string(rec.Status),
	}
}

func fail(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return fmt.Errorf("%s: %w", msg, err)
}

func (s *Store) upsertIdentity(ctx context.Context, tx *sql.Tx, rec registry.IdentityRecord) error {
	_, err := tx.ExecContext(ctx, s.rebind(upsertIdentityQuery), s.identityArgs(rec)...)
	return err
}

func (s *Store) replaceGrades(ctx context.Context, tx *sql.Tx, id registry.SubjectID, at time.Time, rows []registry.GradeRecord) error {
	_, err := tx.ExecContext(ctx, s.rebind(deleteGradesQuery), id.String())
	if err != nil {
		return err
	}
	insert := s.rebind(insertGradeQuery)
	for _, g := range rows {
		_, err = tx.ExecContext(
			ctx, insert,
			id.String(), g.Period, g.LocalYear, g.ForeignYear, g.ImportGrade, g.ExportGrade,
			s.timeArg(at),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertIdentity writes the identity record, overwriting every column of an
// existing one.
func (s *Store) UpsertIdentity(ctx context.Context, rec registry.IdentityRecord) error {
	ctx, span := tracer.Start(ctx, "store:UpsertIdentity")
	defer span.End()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.upsertIdentity(ctx, tx, rec)
	})
	if err != nil {
		return fail(span, "upsert identity", err)
	}
	return nil
}

// ReplaceGrades deletes every grade row of the subject and inserts rows in
// their place. The identity row must exist.
func (s *Store) ReplaceGrades(ctx context.Context, id registry.SubjectID, rows []registry.GradeRecord) error {
	ctx, span := tracer.Start(ctx, "store:ReplaceGrades")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceGrades(ctx, tx, id, time.Now(), rows)
	})
	if err != nil {
		return fail(span, "replace grades", err)
	}
	return nil
}

// SaveRecord writes the identity record and replaces its grades in one
// transaction.
func (s *Store) SaveRecord(ctx context.Context, rec registry.IdentityRecord, grades []registry.GradeRecord) error {
	ctx, span := tracer.Start(ctx, "store:SaveRecord")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", rec.SubjectID.String()),
		attribute.String("status", string(rec.Status)),
		attribute.Int("grades", len(grades)),
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := s.upsertIdentity(ctx, tx, rec)
		if err != nil {
			return err
		}
		return s.replaceGrades(ctx, tx, rec.SubjectID, rec.FetchedAt, grades)
	})
	if err != nil {
		return fail(span, "save record", err)
	}
	return nil
}

// AppendError logs a failure, it does not touch the identity record.
func (s *Store) AppendError(ctx context.Context, entry registry.ErrorEntry) error {
	ctx, span := tracer.Start(ctx, "store:AppendError")
	defer span.End()

	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, s.rebind(insertErrorQuery),
			truncateSubject(entry.SubjectID), entry.Message, entry.Trace, s.timeArg(at),
		)
		return err
	})
	if err != nil {
		return fail(span, "append error", err)
	}
	return nil
}

// MarkError sets the status of the identity record to error, creating an
// empty one when there is none.
func (s *Store) MarkError(ctx context.Context, id registry.SubjectID, at time.Time) error {
	ctx, span := tracer.Start(ctx, "store:MarkError")
	defer span.End()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, s.rebind(markErrorQuery),
			id.String(), s.timeArg(at), string(registry.STATUS_ERROR),
		)
		return err
	})
	if err != nil {
		return fail(span, "mark error", err)
	}
	return nil
}

func (s *Store) GetIdentity(ctx context.Context, id registry.SubjectID) (registry.IdentityRecord, error) {
	ctx, span := tracer.Start(ctx, "store:GetIdentity")
	defer span.End()

	var rec registry.IdentityRecord
	var subject, status string
	var fetchedAt timestamp
	err := s.db.QueryRowContext(ctx, s.rebind(selectIdentityQuery), id.String()).Scan(
		&subject,
		&rec.IssueDate, &rec.RegistrationDate,
		&rec.NameZh, &rec.NameEn, &rec.AddressZh, &rec.AddressEn,
		&rec.Representative, &rec.Tel1, &rec.Tel2, &rec.Fax,
		&rec.OldNameZh, &rec.OldNameEn, &rec.Website, &rec.Email,
		&rec.ImportQualification, &rec.ExportQualification,
		&rec.ImportItemsZh, &rec.ImportItemsEn, &rec.ExportItemsZh, &rec.ExportItemsEn,
		&fetchedAt, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.IdentityRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return registry.IdentityRecord{}, fail(span, "get identity", err)
	}
	rec.SubjectID = registry.SubjectID(subject)
	rec.FetchedAt = fetchedAt.Time
	rec.Status = registry.Status(status)
	return rec, nil
}

func (s *Store) ListGrades(ctx context.Context, id registry.SubjectID) ([]registry.GradeRecord, error) {
	ctx, span := tracer.Start(ctx, "store:ListGrades")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.rebind(selectGradesQuery), id.String())
	if err != nil {
		return nil, fail(span, "list grades", err)
	}
	defer rows.Close()

	grades := []registry.GradeRecord{}
	for rows.Next() {
		var g registry.GradeRecord
		err = rows.Scan(&g.Period, &g.LocalYear, &g.ForeignYear, &g.ImportGrade, &g.ExportGrade)
		if err != nil {
			return nil, fail(span, "scan grade", err)
		}
		grades = append(grades, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fail(span, "list grades", err)
	}
	return grades, nil
}

func (s *Store) ListErrors(ctx context.Context, id registry.SubjectID) ([]registry.ErrorEntry, error) {
	ctx, span := tracer.Start(ctx, "store:ListErrors")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.rebind(selectErrorsQuery), truncateSubject(id))
	if err != nil {
		return nil, fail(span, "list errors", err)
	}
	defer rows.Close()

	entries := []registry.ErrorEntry{}
	for rows.Next() {
		var entry registry.ErrorEntry
		var subject string
		var at timestamp
		err = rows.Scan(&subject, &entry.Message, &entry.Trace, &at)
		if err != nil {
			return nil, fail(span, "scan error entry", err)
		}
		entry.SubjectID = registry.SubjectID(subject)
		entry.At = at.Time
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fail(span, "list errors", err)
	}
	return entries, nil
}
