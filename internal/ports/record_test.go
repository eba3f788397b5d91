package ports

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Labels(t *testing.T) {
	r := NewRecord("syslog", Field{Name: "msg", Value: []byte("disk full")})
	_, err := uuid.Parse(r.ID)
	require.NoError(t, err)

	r.AddLabel("ALERT")
	r.AddLabel("ALERT")
	assert.Equal(t, []string{"ALERT"}, r.Labels)
	assert.True(t, r.HasLabel("ALERT"))
	assert.False(t, r.HasLabel("OTHER"))

	f := r.Field("msg")
	require.NotNil(t, f)
	f.AddLabel("DISK")
	assert.True(t, r.Fields[0].HasLabel("DISK"), "Field returns a pointer into the record")
	assert.Nil(t, r.Field("missing"))
}

func TestRecord_EnsureID(t *testing.T) {
	r := &Record{ID: "fixed"}
	r.EnsureID()
	assert.Equal(t, "fixed", r.ID)

	r = &Record{}
	r.EnsureID()
	assert.NotEmpty(t, r.ID)
}

func TestField_JSON(t *testing.T) {
	data := []byte(`{"id":"1","stream":"s","fields":[{"name":"msg","value":"hello"},{"name":"raw","value_b64":"/wA="}]}`)
	var r Record
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, []byte("hello"), r.Field("msg").Value)
	assert.Equal(t, []byte{0xff, 0x00}, r.Field("raw").Value)

	out, err := json.Marshal(r.Fields)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"msg","value":"hello"},{"name":"raw","value_b64":"/wA="}]`, string(out))
}
