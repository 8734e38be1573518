package validation

import (
	"net/url"
	"testing"

	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
)

var formSchema = schema.MustParse(`{
  "type": "object",
  "properties": {
    "title":   {"type": "string"},
    "count":   {"type": "integer"},
    "price":   {"type": "number"},
    "publish": {"type": "boolean"},
    "tags":    {"type": "array", "items": {"type": "string"}},
    "ids":     {"type": "array", "items": {"type": "integer"}}
  }
}`)

func TestDecodeForm_RepeatedKeys(t *testing.T) {
	form := url.Values{
		"title": {"first", "second"},
		"tags":  {"go", "rpc"},
	}
	got := DecodeForm(formSchema, form)

	assert.Equal(t, "second", got["title"])
	assert.Equal(t, []any{"go", "rpc"}, got["tags"])
}

func TestDecodeForm_SingleValueArrayStaysArray(t *testing.T) {
	got := DecodeForm(formSchema, url.Values{"tags": {"solo"}})
	assert.Equal(t, []any{"solo"}, got["tags"])
}

func TestDecodeForm_Coercion(t *testing.T) {
	form := url.Values{
		"count":   {"3"},
		"price":   {"9.5"},
		"publish": {"on"},
		"ids":     {"1", "2"},
		"unknown": {"7"},
	}
	got := DecodeForm(formSchema, form)

	assert.Equal(t, int64(3), got["count"])
	assert.Equal(t, 9.5, got["price"])
	assert.Equal(t, true, got["publish"])
	assert.Equal(t, []any{int64(1), int64(2)}, got["ids"])
	assert.Equal(t, "7", got["unknown"])
}

func TestDecodeForm_UnparseableLeftForValidation(t *testing.T) {
	got := DecodeForm(formSchema, url.Values{"count": {"abc"}, "price": {"NaN"}})
	assert.Equal(t, "abc", got["count"])
	assert.Equal(t, "NaN", got["price"])
}

func TestDecodeForm_BracketSuffixForcesArray(t *testing.T) {
	got := DecodeForm(nil, url.Values{"colors[]": {"red"}})
	assert.Equal(t, []any{"red"}, got["colors"])
}

func TestDecodeForm_AllOfProperties(t *testing.T) {
	a := schema.MustParse(`{"type":"object","properties":{"tags":{"type":"array"}}}`)
	b := schema.MustParse(`{"type":"object","properties":{"n":{"type":"number"}}}`)

	got := DecodeForm(schema.AllOf(a, b), url.Values{"tags": {"x", "y"}, "n": {"5"}})
	assert.Equal(t, []any{"x", "y"}, got["tags"])
	assert.Equal(t, 5.0, got["n"])
}

func TestDecodeForm_ValidatesAfterDecoding(t *testing.T) {
	v := NewJSONSchemaValidator()
	decoded := DecodeForm(formSchema, url.Values{"count": {"12"}, "tags": {"a"}})

	issues, err := v.Validate(formSchema, decoded)
	assert.NoError(t, err)
	assert.True(t, issues.Empty())
}
