package data

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascata/gateway/internal/apperror"
)

func postRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/customers", strings.NewReader(body))
}

func TestDecodeRowsAcceptsObjectAndArray(t *testing.T) {
	rows, err := decodeRows(postRequest(`{"name":"A"}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["name"])

	rows, err = decodeRows(postRequest(`[{"name":"A"},{"name":"B"}]`))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDecodeRowsRejectsScalars(t *testing.T) {
	_, err := decodeRows(postRequest(`"just a string"`))
	require.Error(t, err)
	assert.Equal(t, apperror.Validation, apperror.KindOf(err))
}

func TestDecodeBodyInvalidJSONIsValidation(t *testing.T) {
	var dst map[string]any
	err := decodeBody(postRequest(`{broken`), &dst)
	require.Error(t, err)
	assert.Equal(t, apperror.Validation, apperror.KindOf(err))
}

func TestPreferHeaderParsing(t *testing.T) {
	assert.Equal(t, "merge-duplicates", resolutionFromPrefer("resolution=merge-duplicates,return=minimal"))
	assert.Equal(t, "ignore-duplicates", resolutionFromPrefer("resolution=ignore-duplicates"))
	assert.Equal(t, "", resolutionFromPrefer("count=exact"))

	assert.True(t, returnMinimalFromPrefer("return=minimal"))
	assert.False(t, returnMinimalFromPrefer("return=representation"))
}

func TestStripRecycleBinPrefix(t *testing.T) {
	name, ok := stripRecycleBinPrefix("_deleted_1712345678901_customers")
	assert.True(t, ok)
	assert.Equal(t, "customers", name)

	_, ok = stripRecycleBinPrefix("customers")
	assert.False(t, ok)

	_, ok = stripRecycleBinPrefix("_deleted_nounderscore")
	assert.False(t, ok)
}
