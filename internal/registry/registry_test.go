package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boi/internal/assistant"
)

func okHandler(msg string) Handler {
	return HandlerFunc(func(context.Context, Call) assistant.HandlerResult {
		return assistant.OK(msg)
	})
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	schema := Schema{
		Description: "Take a screenshot",
		Params:      []Param{{Name: "filename", Type: TypeString}},
	}
	require.NoError(t, r.Register("screenshot", okHandler("Saved"), schema, Flags{}))

	e, ok := r.Lookup("screenshot")
	require.True(t, ok)
	assert.Equal(t, "screenshot", e.Name)
	assert.Equal(t, "Take a screenshot", e.Schema.Description)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestReservedNamesRejected(t *testing.T) {
	r := New()

	err := r.Register(assistant.ActionError, okHandler("x"), Schema{}, Flags{})
	assert.True(t, errors.Is(err, ErrReserved))

	err = r.Register(assistant.ActionChat, okHandler("x"), Schema{}, Flags{})
	assert.True(t, errors.Is(err, ErrReserved))

	_, ok := r.Lookup(assistant.ActionError)
	assert.False(t, ok)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	r := New()
	h := okHandler("x")
	require.NoError(t, r.Register("greet", h, Schema{}, Flags{}))

	err := r.Register("greet", h, Schema{}, Flags{})
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Len(t, r.Catalog(), 1)
}

func TestFrozenRegistry(t *testing.T) {
	r := New()
	r.Freeze()
	err := r.Register("greet", okHandler("x"), Schema{}, Flags{})
	assert.True(t, errors.Is(err, ErrFrozen))
}

func TestKnownNamesKeepsOrderAndAddsChat(t *testing.T) {
	r := New()
	r.MustRegister("b", okHandler("b"), Schema{}, Flags{})
	r.MustRegister("a", okHandler("a"), Schema{}, Flags{})

	assert.Equal(t, []string{"b", "a", assistant.ActionChat}, r.KnownNames())
}

func TestSchemaCheck(t *testing.T) {
	r := New()

	err := r.Register("x", okHandler("x"), Schema{Params: []Param{{Name: "mode", Type: TypeEnum}}}, Flags{})
	assert.Error(t, err)

	err = r.Register("y", okHandler("y"), Schema{Params: []Param{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString}}}, Flags{})
	assert.Error(t, err)

	err = r.Register("z", okHandler("z"), Schema{Params: []Param{{Name: "a", Type: "blob"}}}, Flags{})
	assert.Error(t, err)
}

func TestSchemaValidate(t *testing.T) {
	schema := Schema{Params: []Param{
		{Name: "path", Type: TypePath, Required: true},
		{Name: "count", Type: TypeNumber, Default: 5.0},
		{Name: "force", Type: TypeBool},
		{Name: "format", Type: TypeEnum, Enum: []string{"12h", "24h"}},
		{Name: "phone", Type: TypePhone},
		{Name: "site", Type: TypeURL},
	}}

	out, err := schema.Validate(map[string]any{
		"path":   "/tmp/../tmp/downloads",
		"force":  "yes",
		"format": "24H",
		"phone":  "+1 555-123-4567",
		"site":   "https://example.com/a",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Clean("/tmp/downloads"), out["path"])
	assert.Equal(t, 5.0, out["count"])
	assert.Equal(t, true, out["force"])
	assert.Equal(t, "24h", out["format"])
	assert.Equal(t, "+15551234567", out["phone"])
	assert.Equal(t, "https://example.com/a", out["site"])
}

func TestSchemaValidateCollectsProblems(t *testing.T) {
	schema := Schema{Params: []Param{
		{Name: "path", Type: TypePath, Required: true},
		{Name: "count", Type: TypeNumber},
		{Name: "site", Type: TypeURL},
	}}

	_, err := schema.Validate(map[string]any{
		"count": "many",
		"site":  "not a url",
		"extra": 1,
	})
	require.Error(t, err)

	var perr *ParamError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, perr.Problems, 4)
}

func TestNumberCoercion(t *testing.T) {
	schema := Schema{Params: []Param{{Name: "n", Type: TypeNumber, Required: true}}}

	for _, raw := range []any{3, int64(3), float32(3), 3.0, "3"} {
		out, err := schema.Validate(map[string]any{"n": raw})
		require.NoError(t, err)
		assert.Equal(t, 3.0, out["n"])
	}
}
