package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/event"
)

func validPayload(t *testing.T, data map[string]any) map[string]any {
	t.Helper()
	p := event.New("task:created", data, event.Context{Source: "test"})
	m := p.Map()
	require.NotNil(t, m)
	return m
}

func TestEnvelopeValidation(t *testing.T) {
	v := NewValidator()

	res, err := v.Validate("task:created", validPayload(t, map[string]any{"taskId": "1"}))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Problems)
}

func TestEnvelopeRejectsMissingFields(t *testing.T) {
	v := NewValidator()

	res, err := v.Validate("task:created", map[string]any{"type": "task:created"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Problems)
}

func TestTypeSchema(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.RegisterSchema("task:created", []byte(`{
		"type": "object",
		"properties": {
			"data": {
				"type": "object",
				"required": ["taskId"]
			}
		}
	}`)))
	assert.True(t, v.HasSchema("task:created"))
	assert.False(t, v.HasSchema("task:updated"))

	res, err := v.Validate("task:created", validPayload(t, map[string]any{"taskId": "1"}))
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.Validate("task:created", validPayload(t, map[string]any{"other": true}))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	// Other types are not held to this schema.
	res, err = v.Validate("task:updated", validPayload(t, map[string]any{"other": true}))
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestRegisterSchemaRejectsBadJSON(t *testing.T) {
	v := NewValidator()
	err := v.RegisterSchema("task:created", []byte(`{not json`))
	assert.Error(t, err)
	assert.False(t, v.HasSchema("task:created"))
}

func TestValidateStrict(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.RegisterSchema("task:created", []byte(`{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "object", "required": ["taskId"]}
		}
	}`)))

	require.NoError(t, v.ValidateStrict("task:created",
		validPayload(t, map[string]any{"taskId": "1"})))

	err := v.ValidateStrict("task:created", validPayload(t, map[string]any{"other": true}))
	var ve *teverrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "task:created", ve.EventType)
	assert.NotEmpty(t, ve.Problems)
}
