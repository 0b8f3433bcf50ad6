package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["x"],
	"properties": {"x": {"type": "integer"}}
}`

func TestNewValidatorRejectsBadSchema(t *testing.T) {
	_, err := NewValidator("s.json", nil)
	require.Error(t, err)

	_, err = NewValidator("s.json", []byte(`{not json`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	v, err := NewValidator("s.json", []byte(testSchema))
	require.NoError(t, err)

	assert.NoError(t, v.Validate([]byte(`{"x":1}`)))

	err = v.Validate([]byte(`{"x":"nope"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match schema")

	err = v.Validate([]byte(`{`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")

	err = v.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload is required")
}
