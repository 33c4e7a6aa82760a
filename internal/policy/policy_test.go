package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotaai/quotepipe/internal/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background())
	require.NoError(t, err)
	e.Load(
		[]models.BlockedDomain{{Domain: "mercadolivre.com.br", SourceName: "Mercado Livre"}},
		[]string{"manufacturer.com"},
	)
	return e
}

func TestValidateAllowsPlainStoreDomain(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Validate(context.Background(), "https://www.lojaexemplo.com.br/produto/notebook-x1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "lojaexemplo.com.br", d.Domain)
}

func TestValidateRejectsBlockedDomain(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Validate(context.Background(), "https://www.mercadolivre.com.br/notebook-x1/p")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonBlockedDomain, d.Reason)
}

func TestValidateRejectsForeignDomain(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Validate(context.Background(), "https://www.someusstore.com/product/x1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonForeignDomain, d.Reason)
}

func TestValidateAllowsWhitelistedForeignDomain(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Validate(context.Background(), "https://www.manufacturer.com/product/x1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestValidateRejectsListingURL(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Validate(context.Background(), "https://www.lojaexemplo.com.br/busca/?q=notebook")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonListingURL, d.Reason)
}
