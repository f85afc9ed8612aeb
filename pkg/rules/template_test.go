package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplateSubstitutesFields(t *testing.T) {
	row := map[string]any{"name": "Ada", "unread": 3}
	got := renderTemplate("{{name}} has {{unread}} new messages", row)
	assert.Equal(t, "Ada has 3 new messages", got)
}

func TestRenderTemplateNullFieldRendersEmpty(t *testing.T) {
	row := map[string]any{"name": "Ada"}
	got := renderTemplate("{{name}}: {{missing}}", row)
	assert.Equal(t, "Ada: ", got)
}

func TestRenderTemplateNoPlaceholders(t *testing.T) {
	assert.Equal(t, "static text", renderTemplate("static text", map[string]any{}))
}

func TestRenderTemplateUnterminatedPlaceholderPassesThrough(t *testing.T) {
	got := renderTemplate("hello {{name", map[string]any{"name": "Ada"})
	assert.Equal(t, "hello {{name", got)
}

func TestRenderDataPayload(t *testing.T) {
	row := map[string]any{"order_id": "abc123"}
	out := renderDataPayload(map[string]string{"order": "{{order_id}}"}, row)
	assert.Equal(t, map[string]string{"order": "abc123"}, out)

	assert.Nil(t, renderDataPayload(nil, row))
}

func TestStringifyField(t *testing.T) {
	assert.Equal(t, "", stringifyField(nil))
	assert.Equal(t, "7", stringifyField(7))
}
