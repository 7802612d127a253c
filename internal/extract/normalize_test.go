package extract

import (
	"testing"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]interface{}
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "whitespace only", raw: "  \n\t", want: nil},
		{name: "plain object", raw: ` {"1":"a"} `, want: map[string]interface{}{"1": "a"}},
		{name: "json fence", raw: "```json\n{\"1\":\"hello\"}\n```", want: map[string]interface{}{"1": "hello"}},
		{name: "bare fence", raw: "```\n{\"2\":\"x\"}\n```", want: map[string]interface{}{"2": "x"}},
		{name: "fence on one line", raw: "```json{\"3\":\"y\"}```", want: map[string]interface{}{"3": "y"}},
		{name: "empty fence", raw: "```json\n```", want: nil},
		{name: "prose", raw: "Here is the text of page one.", wantErr: true},
		{name: "array", raw: `["a","b"]`, wantErr: true},
		{name: "string", raw: `"page"`, wantErr: true},
		{name: "fenced array", raw: "```json\n[1]\n```", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBatch_DropsUnrequestedKeys(t *testing.T) {
	got, err := ParseBatch(`{"1":"one","2":"two","9":"stray","note":"ignored"}`, []int{1, 2, 3})

	require.NoError(t, err)
	assert.Equal(t, domain.PageResult{"1": "one", "2": "two"}, got)
}

func TestParseBatch_RejectsNonStringPageValue(t *testing.T) {
	_, err := ParseBatch(`{"1":{"text":"nested"}}`, []int{1})
	assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidFormat))
}

func TestParseBatch_EmptyIsInvalid(t *testing.T) {
	_, err := ParseBatch("", []int{1})
	assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidFormat))
}

func TestParsePage(t *testing.T) {
	text, err := ParsePage("```json\n{\"7\":\"seven\"}\n```", 7)
	require.NoError(t, err)
	assert.Equal(t, "seven", text)

	_, err = ParsePage(`{"8":"wrong page"}`, 7)
	assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidFormat))
}
