package telemetry

import (
	"fmt"
)

// API is the reporting surface components log through, so tests can assert
// on what a component reported.
type API interface {
	// ReportBroken reports a component that failed in a way someone should
	// look at.
	//
	// The id names the component and method, not the failing line, ex.
	// `form.submit` or `store.save-record`. Ids are lowercase, underscores
	// join words of a component name and dashes join words of a method name.
	// Wrap the error with fmt.Errorf when more detail is needed.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unexpected that did not fail the
	// operation. Ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports information only useful while debugging.
	ReportDebug(msg string, params ...any)

	// ReportCount reports a point-in-time count, counts are not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, ex. "tradeportal: form.submit".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
