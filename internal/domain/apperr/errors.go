package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine failures by how the caller must react.
type Kind string

const (
	KindConfig         Kind = "config"
	KindTransientFetch Kind = "transient_fetch"
	KindProviderFormat Kind = "provider_format"
	KindUnknownSeries  Kind = "unknown_series"
	KindStore          Kind = "store"
	KindComposite      Kind = "composite"
)

// Error is the single error type surfaced across component boundaries.
type Error struct {
	Kind     Kind
	SeriesID string
	Provider string
	IndexID  string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		fmt.Fprintf(&b, " [%s]", e.Provider)
	}
	if e.SeriesID != "" {
		fmt.Fprintf(&b, " series=%s", e.SeriesID)
	}
	if e.IndexID != "" {
		fmt.Fprintf(&b, " index=%s", e.IndexID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, apperr.ErrStore) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.SeriesID == "" && t.IndexID == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrConfig         = &Error{Kind: KindConfig}
	ErrTransientFetch = &Error{Kind: KindTransientFetch}
	ErrProviderFormat = &Error{Kind: KindProviderFormat}
	ErrUnknownSeries  = &Error{Kind: KindUnknownSeries}
	ErrStore          = &Error{Kind: KindStore}
	ErrComposite      = &Error{Kind: KindComposite}
)

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Config(format string, args ...any) *Error {
	return newf(KindConfig, nil, format, args...)
}

func Transient(err error, format string, args ...any) *Error {
	return newf(KindTransientFetch, err, format, args...)
}

func ProviderFormat(err error, format string, args ...any) *Error {
	return newf(KindProviderFormat, err, format, args...)
}

func UnknownSeries(seriesID, format string, args ...any) *Error {
	e := newf(KindUnknownSeries, nil, format, args...)
	e.SeriesID = seriesID
	return e
}

func Store(err error, format string, args ...any) *Error {
	return newf(KindStore, err, format, args...)
}

func Composite(indexID string, err error, format string, args ...any) *Error {
	e := newf(KindComposite, err, format, args...)
	e.IndexID = indexID
	return e
}

// WithSeries annotates an error with series context without changing its kind.
func (e *Error) WithSeries(provider, seriesID string) *Error {
	e.Provider = provider
	if e.SeriesID == "" {
		e.SeriesID = seriesID
	}
	return e
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a fetch should be attempted again.
func Retryable(err error) bool {
	return IsKind(err, KindTransientFetch)
}

// Fatal reports whether the error must abort the run (exit code 2).
func Fatal(err error) bool {
	k := KindOf(err)
	return k == KindConfig || k == KindStore
}
