package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "prose around object",
			in:   "Sure, here is the result:\n```json\n{\"a\":1,\"b\":{\"c\":2}}\n```\nLet me know if you need anything else.",
			want: `{"a":1,"b":{"c":2}}`,
		},
		{
			name: "braces inside a quoted string don't break depth tracking",
			in:   `{"note":"looks like a { brace } inside text","n":2}`,
			want: `{"note":"looks like a { brace } inside text","n":2}`,
		},
		{
			name:    "no object present",
			in:      "no json here",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			in:      `{"a":1`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSONObject(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseAnalysisMapsShoppingFields(t *testing.T) {
	resp := &Response{
		Text: `{"canonical_name":"Notebook X","brand":"Acme","model":"X1",
		"processing_type":"GOOGLE_SHOPPING","specs":{"ram":"16GB"},
		"primary_query":"notebook acme x1","alternative_queries":["acme x1 16gb"],
		"exclude_terms":["usado"]}`,
		Usage: Usage{InputTokens: 100, OutputTokens: 50},
	}

	analysis, raw, err := parseAnalysis(resp)
	require.NoError(t, err)
	assert.Equal(t, "Notebook X", analysis.CanonicalName)
	assert.Equal(t, "notebook acme x1", analysis.PrimaryQuery)
	assert.Equal(t, []string{"acme x1 16gb"}, analysis.AlternativeQueries)
	assert.Equal(t, 150, analysis.TokenLedger.Total())
	assert.Nil(t, analysis.Vehicle)
	assert.NotEmpty(t, raw)
}

func TestParseAnalysisMapsVehicleFields(t *testing.T) {
	resp := &Response{
		Text: `{"canonical_name":"Honda Civic 2018","processing_type":"FIPE",
		"vehicle":{"brand_term":"Honda","model_term":"Civic","year":2018,"fuel_hint":"gasolina"}}`,
	}

	analysis, _, err := parseAnalysis(resp)
	require.NoError(t, err)
	require.NotNil(t, analysis.Vehicle)
	assert.Equal(t, "Honda", analysis.Vehicle.BrandTerm)
	assert.Equal(t, 2018, analysis.Vehicle.Year)
}
