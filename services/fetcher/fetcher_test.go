package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	"tradereg/internal/components/chrono"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/platforms/tradeportal"
	"tradereg/lib/registry"

	"github.com/stretchr/testify/require"
)

var fetchedAt = time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)

var defaultSubjects = []string{
	"22178368", "22099131", "84149961", "22555003", "04351626",
	"11768704", "71620635", "03707901", "73008303",
}

func identity(id registry.SubjectID) registry.IdentityRecord {
	return registry.IdentityRecord{
		SubjectID: id,
		NameZh:    "範例貿易股份有限公司",
		NameEn:    "EXAMPLE TRADING CO., LTD.",
	}
}

var grades = []registry.GradeRecord{
	{Period: "113年/2024", LocalYear: "113", ForeignYear: "2024", ImportGrade: "A", ExportGrade: "B"},
}

type fakeBasic struct {
	mutex sync.Mutex
	err   error
	empty bool
	panic string
	calls []registry.SubjectID
}

func (f *fakeBasic) Fetch(ctx context.Context, id registry.SubjectID) (registry.IdentityRecord, error) {
	f.mutex.Lock()
	f.calls = append(f.calls, id)
	f.mutex.Unlock()
	if f.panic != "" {
		panic(f.panic)
	}
	if f.empty || f.err != nil && !errors.Is(f.err, tradeportal.ErrPanelNotShown) {
		return registry.IdentityRecord{SubjectID: id}, f.err
	}
	return identity(id), f.err
}

type fakeGrades struct {
	err   error
	calls int
}

func (f *fakeGrades) Fetch(ctx context.Context, id registry.SubjectID) ([]registry.GradeRecord, error) {
	f.calls++
	if f.err != nil {
		return []registry.GradeRecord{}, f.err
	}
	return grades, nil
}

type savedRecord struct {
	rec    registry.IdentityRecord
	grades []registry.GradeRecord
}

type fakeStore struct {
	saved   []savedRecord
	errors  []registry.ErrorEntry
	marked  []registry.SubjectID
	opened  int
	closed  int
	saveErr error
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error {
	return nil
}

func (s *fakeStore) SaveRecord(ctx context.Context, rec registry.IdentityRecord, grades []registry.GradeRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, savedRecord{rec: rec, grades: grades})
	return nil
}

func (s *fakeStore) AppendError(ctx context.Context, entry registry.ErrorEntry) error {
	s.errors = append(s.errors, entry)
	return nil
}

func (s *fakeStore) MarkError(ctx context.Context, id registry.SubjectID, at time.Time) error {
	s.marked = append(s.marked, id)
	return nil
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

func (s *fakeStore) opener() StoreOpener {
	return func(ctx context.Context) (RecordStore, error) {
		s.opened++
		return s, nil
	}
}

type countingPacer struct {
	pauses int
	err    error
}

func (p *countingPacer) Pause(ctx context.Context) error {
	p.pauses++
	return p.err
}

type fixture struct {
	basic  *fakeBasic
	grades *fakeGrades
	store  *fakeStore
	pacer  *countingPacer
	tel    *telemetry.MemoryAPI
}

func newFixture() fixture {
	return fixture{
		basic:  &fakeBasic{},
		grades: &fakeGrades{},
		store:  &fakeStore{},
		pacer:  &countingPacer{},
		tel:    telemetry.NewMemoryAPI(),
	}
}

func (f fixture) service() Service {
	return NewService(ServiceOptions{
		Basic:     f.basic,
		Grades:    f.grades,
		OpenStore: f.store.opener(),
		Telemetry: f.tel,
		Clock:     chrono.FixedImpl{At: fetchedAt},
		Pacing:    DefaultPacing,
		Pacer:     f.pacer,
	})
}

func TestClassify(t *testing.T) {
	failure := errors.New("failed")
	withData := identity("22099131")
	empty := registry.IdentityRecord{SubjectID: "22099131"}

	cases := []struct {
		name     string
		basicErr error
		gradeErr error
		rec      registry.IdentityRecord
		expected registry.Status
	}{
		{name: "no failures", rec: withData, expected: registry.STATUS_SUCCESS},
		{name: "no failures without data", rec: empty, expected: registry.STATUS_SUCCESS},
		{name: "grade failure", gradeErr: failure, rec: withData, expected: registry.STATUS_PARTIAL},
		{name: "basic failure", basicErr: failure, rec: withData, expected: registry.STATUS_PARTIAL},
		{name: "both fail without data", basicErr: failure, gradeErr: failure, rec: empty, expected: registry.STATUS_ERROR},
		{name: "grade failure without data", gradeErr: failure, rec: empty, expected: registry.STATUS_ERROR},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, Classify(test.basicErr, test.gradeErr, test.rec))
		})
	}
}

func TestFetchSubjectSuccess(t *testing.T) {
	f := newFixture()

	report, err := f.service().FetchSubject(context.Background(), "22099131")
	require.NoError(t, err)
	require.Equal(t, registry.STATUS_SUCCESS, report.Status)
	require.True(t, report.Persisted)
	require.Equal(t, 2, report.Fields)
	require.Equal(t, 1, report.Grades)

	require.Len(t, f.store.saved, 1)
	saved := f.store.saved[0]
	require.Equal(t, registry.STATUS_SUCCESS, saved.rec.Status)
	require.Equal(t, fetchedAt, saved.rec.FetchedAt)
	require.Equal(t, grades, saved.grades)
	require.Empty(t, f.store.errors)
	require.Equal(t, 1, f.store.opened)
	require.Equal(t, 1, f.store.closed)
}

func TestFetchSubjectTerminal(t *testing.T) {
	terminalErrs := []error{
		tradeportal.ErrNoData,
		fmt.Errorf("%w after 3 attempts: results not shown", tradeportal.ErrRetryExhausted),
		fmt.Errorf("%w: primary session: chrome not found", tradeportal.ErrSessionLaunch),
	}
	for _, terminalErr := range terminalErrs {
		t.Run(terminalErr.Error(), func(t *testing.T) {
			f := newFixture()
			f.basic.err = terminalErr

			report, err := f.service().FetchSubject(context.Background(), "22099131")
			require.ErrorIs(t, err, terminalErr)
			require.Equal(t, registry.STATUS_ERROR, report.Status)
			require.True(t, report.Persisted)

			require.Zero(t, f.grades.calls, "grades are not read after a terminal failure")
			require.Empty(t, f.store.saved)
			require.Len(t, f.store.errors, 1)
			require.Equal(t, terminalErr.Error(), f.store.errors[0].Message)
			require.Equal(t, fetchedAt, f.store.errors[0].At)
			require.Equal(t, []registry.SubjectID{"22099131"}, f.store.marked)
			require.Equal(t, 1, f.store.closed)
		})
	}
}

func TestFetchSubjectPartial(t *testing.T) {
	f := newFixture()
	f.grades.err = fmt.Errorf("%w: grade card", tradeportal.ErrPanelNotShown)

	report, err := f.service().FetchSubject(context.Background(), "22099131")
	require.ErrorIs(t, err, tradeportal.ErrPanelNotShown)
	require.Equal(t, registry.STATUS_PARTIAL, report.Status)
	require.Len(t, report.Errors, 1)

	require.Len(t, f.store.errors, 1)
	require.Len(t, f.store.saved, 1)
	require.Equal(t, registry.STATUS_PARTIAL, f.store.saved[0].rec.Status)
	require.Empty(t, f.store.saved[0].grades)
	require.NotNil(t, f.store.saved[0].grades)
	require.Empty(t, f.store.marked)
}

func TestFetchSubjectBothStagesFail(t *testing.T) {
	f := newFixture()
	f.basic.err = fmt.Errorf("%w: basic card", tradeportal.ErrPanelNotShown)
	f.basic.empty = true
	f.grades.err = errors.New("grade session query failed")

	report, err := f.service().FetchSubject(context.Background(), "22099131")
	require.Error(t, err)
	require.Equal(t, registry.STATUS_ERROR, report.Status)
	require.Equal(t, 1, f.grades.calls, "a basic card failure does not stop the grade stage")

	require.Len(t, f.store.errors, 2)
	require.Len(t, f.store.saved, 1)
	require.Equal(t, registry.STATUS_ERROR, f.store.saved[0].rec.Status)
	require.Equal(t, registry.SubjectID("22099131"), f.store.saved[0].rec.SubjectID)
}

func TestFetchSubjectSaveFailure(t *testing.T) {
	f := newFixture()
	f.store.saveErr = errors.New("connection reset")

	report, err := f.service().FetchSubject(context.Background(), "22099131")
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, registry.STATUS_SUCCESS, report.Status)
	require.False(t, report.Persisted)
	require.Len(t, f.tel.Find(telemetry.REPORT_BROKEN, report_fetcher_persist), 1)
	require.Equal(t, 1, f.store.closed)
}

func TestFetchSubjectStoreUnavailable(t *testing.T) {
	f := newFixture()
	service := f.service()
	service.openStore = func(ctx context.Context) (RecordStore, error) {
		return nil, errors.New("connection refused")
	}

	report, err := service.FetchSubject(context.Background(), "22099131")
	require.NoError(t, err)
	require.Equal(t, registry.STATUS_SUCCESS, report.Status)
	require.False(t, report.Persisted)
	require.Len(t, f.tel.Find(telemetry.REPORT_BROKEN, report_fetcher_store), 1)
	require.Equal(t, 1, f.grades.calls)
}

func TestFetchSubjectWithoutStore(t *testing.T) {
	f := newFixture()
	service := f.service()
	service.openStore = nil

	report, err := service.FetchSubject(context.Background(), "22099131")
	require.NoError(t, err)
	require.False(t, report.Persisted)
	require.Empty(t, f.tel.Find(telemetry.REPORT_BROKEN, ""))
}

func TestBatchPacing(t *testing.T) {
	f := newFixture()

	summary := f.service().Batch(context.Background(), defaultSubjects[:7])
	require.Equal(t, 2, f.pacer.pauses)
	require.Equal(t, 2, summary.Pauses)
	require.Equal(t, 7, summary.Success)
	require.Len(t, summary.Reports, 7)

	f = newFixture()
	f.service().Batch(context.Background(), defaultSubjects[:6])
	require.Equal(t, 1, f.pacer.pauses, "no pause after the last subject")

	f = newFixture()
	f.service().Batch(context.Background(), defaultSubjects[:1])
	require.Zero(t, f.pacer.pauses)
}

func TestBatchSkipsInvalid(t *testing.T) {
	f := newFixture()
	ids := []string{"22099131", "12345678", "2209913", "04351626"}

	summary := f.service().Batch(context.Background(), ids)
	require.Equal(t, 2, summary.Skipped)
	require.Equal(t, []string{"12345678", "2209913"}, summary.Invalid)
	require.Equal(t, 2, summary.Success)
	require.Equal(t, 4, summary.Total())
	require.Equal(t, []registry.SubjectID{"22099131", "04351626"}, f.basic.calls)
	require.Len(t, f.tel.Find(telemetry.REPORT_WARNING, report_batch_skipped), 2)
}

func TestBatchContinuesAfterFailures(t *testing.T) {
	f := newFixture()
	f.basic.err = tradeportal.ErrNoData

	summary := f.service().Batch(context.Background(), defaultSubjects[:4])
	require.Equal(t, 4, summary.Error)
	require.Len(t, f.basic.calls, 4)
	require.Len(t, f.store.marked, 4)
}

func TestBatchRecoversPanic(t *testing.T) {
	f := newFixture()
	f.basic.panic = "nil map write"

	summary := f.service().Batch(context.Background(), defaultSubjects[:2])
	require.Equal(t, 2, summary.Error)
	require.Len(t, f.basic.calls, 2)

	require.Len(t, f.store.errors, 2)
	require.Contains(t, f.store.errors[0].Message, "nil map write")
	require.NotEmpty(t, f.store.errors[0].Trace)
	require.Equal(t, fetchedAt, f.store.errors[0].At)
	require.Len(t, f.store.marked, 2)
	require.True(t, summary.Reports[0].Persisted)
	require.Equal(t, f.store.opened, f.store.closed)
	require.Len(t, f.tel.Find(telemetry.REPORT_BROKEN, report_batch_panic), 2)
}

func TestBatchCancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.pacer.err = context.Canceled
	defer cancel()

	summary := f.service().Batch(ctx, defaultSubjects[:7])
	require.Len(t, summary.Reports, 3, "the batch stops at the first interrupted pause")

	cancel()
	f = newFixture()
	summary = f.service().Batch(ctx, defaultSubjects[:2])
	require.Empty(t, summary.Reports)
	require.Empty(t, f.basic.calls)
}

func TestRandomPacer(t *testing.T) {
	pacer := DefaultPacing.Pacer()
	seen := map[time.Duration]bool{}
	for i := 0; i < 500; i++ {
		d := pacer.Duration()
		require.GreaterOrEqual(t, d, 5*time.Second)
		require.LessOrEqual(t, d, 15*time.Second)
		require.Zero(t, d%time.Second, "whole seconds")
		seen[d] = true
	}
	require.True(t, seen[5*time.Second], "lower bound is drawn")
	require.True(t, seen[15*time.Second], "upper bound is drawn")

	require.Equal(t, time.Second, RandomPacer{Min: time.Second, Max: time.Second}.Duration())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pacer.Pause(ctx), context.Canceled)
	require.NoError(t, RandomPacer{}.Pause(context.Background()))
}
