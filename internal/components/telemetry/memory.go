package telemetry

import (
	"strings"
	"sync"
)

type ReportKind int

const (
	REPORT_BROKEN ReportKind = iota
	REPORT_WARNING
	REPORT_DEBUG
	REPORT_COUNT
)

type Report struct {
	Kind   ReportKind
	ID     string
	Params []any
	Count  int64
}

// MemoryAPI keeps every report in memory, it is meant for tests.
type MemoryAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{}
}

func (m *MemoryAPI) add(r Report) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reports = append(m.reports, r)
}

func (m *MemoryAPI) ReportBroken(id string, params ...any) {
	m.add(Report{Kind: REPORT_BROKEN, ID: id, Params: params})
}

func (m *MemoryAPI) ReportWarning(id string, params ...any) {
	m.add(Report{Kind: REPORT_WARNING, ID: id, Params: params})
}

func (m *MemoryAPI) ReportDebug(msg string, params ...any) {
	m.add(Report{Kind: REPORT_DEBUG, ID: msg, Params: params})
}

func (m *MemoryAPI) ReportCount(id string, count int64) {
	m.add(Report{Kind: REPORT_COUNT, ID: id, Count: count})
}

func (m *MemoryAPI) Reports() []Report {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]Report, len(m.reports))
	copy(out, m.reports)
	return out
}

// Find returns the reports of a kind whose id ends with suffix, so scoped
// ids can be matched without their namespace.
func (m *MemoryAPI) Find(kind ReportKind, suffix string) []Report {
	var out []Report
	for _, r := range m.Reports() {
		if r.Kind == kind && strings.HasSuffix(r.ID, suffix) {
			out = append(out, r)
		}
	}
	return out
}
