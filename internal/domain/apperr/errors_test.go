package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	base := Transient(errors.New("connection reset"), "GET %s", "/series")
	wrapped := fmt.Errorf("fetch DGS10: %w", base.WithSeries("economic-data", "DGS10"))

	assert.True(t, errors.Is(wrapped, ErrTransientFetch))
	assert.False(t, errors.Is(wrapped, ErrStore))
	assert.Equal(t, KindTransientFetch, KindOf(wrapped))
	assert.True(t, Retryable(wrapped))
	assert.False(t, Fatal(wrapped))
	assert.Contains(t, wrapped.Error(), "series=DGS10")
	assert.Contains(t, wrapped.Error(), "connection reset")
}

func TestFatalKinds(t *testing.T) {
	assert.True(t, Fatal(Config("missing catalog")))
	assert.True(t, Fatal(fmt.Errorf("upsert: %w", Store(errors.New("disk full"), "write"))))
	assert.False(t, Fatal(Composite("LCI", nil, "no rows")))
	assert.False(t, Fatal(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestUnknownSeriesCarriesID(t *testing.T) {
	err := UnknownSeries("NOPE", "provider rejected id")
	assert.Equal(t, "NOPE", err.SeriesID)
	assert.True(t, IsKind(err, KindUnknownSeries))
	assert.False(t, Retryable(err))
}
