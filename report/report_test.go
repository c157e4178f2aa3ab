package report

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannick-cn/dbc-view/dbc"
)

const overlapDBC = `BU_: ECU
BO_ 100 M: 8 ECU
 SG_ A : 0|8@1+ (1,0) [0|255] "" Vector__XXX
 SG_ B : 4|8@1+ (1,0) [0|255] "" Vector__XXX
`

func TestValidateReport(t *testing.T) {
	db, warnings := dbc.ParseString(overlapDBC + "GARBAGE\n")
	r := Validate("m.dbc", db, warnings)

	assert.False(t, r.OK)
	assert.Equal(t, "m.dbc", r.File)
	assert.Equal(t, 1, r.MessageCount)
	assert.Equal(t, 2, r.SignalCount)
	require.Len(t, r.Errors, 1)
	assert.Len(t, r.Warnings, 1)
	assert.NotEmpty(t, r.GeneratedAt)
	assert.Equal(t, "Overlap validation: 1 error(s)\n"+r.Errors[0], r.Summary())
}

func TestReportClean(t *testing.T) {
	r := New("", nil, nil, dbc.ValidationResult{OK: true})
	assert.Equal(t, "Overlap validation: OK (no errors).", r.Summary())

	buf, err := r.Marshal()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, jsoniter.Unmarshal(buf, &m))
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, []any{}, m["errors"])
	assert.NotContains(t, m, "warnings")
	assert.Equal(t, 0.0, m["messageCount"])
}
