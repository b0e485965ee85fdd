package ingestion

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

func TestParse_TypesCells(t *testing.T) {
	raw := []byte("id,temp,vin,active,notes\n1,220,1HGCM82633A004352,true,\n2,90.5,,FALSE,ok\n")

	res := Parse(raw)

	require.True(t, res.OK, res.Error)
	assert.Equal(t, []string{"id", "temp", "vin", "active", "notes"}, res.Headers)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, map[string]any{"id": 1.0, "temp": 220.0, "vin": "1HGCM82633A004352", "active": true, "notes": nil}, res.Rows[0])
	assert.Equal(t, 90.5, res.Rows[1]["temp"])
	assert.Nil(t, res.Rows[1]["vin"])
	assert.Equal(t, false, res.Rows[1]["active"])
}

func TestParse_SkipsBlankLinesAndBOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("id,temp\r\n\r\n1,220\r\n,\r\n3,410\r\n\r\n")...)

	res := Parse(raw)

	require.True(t, res.OK, res.Error)
	assert.Equal(t, []string{"id", "temp"}, res.Headers)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 410.0, res.Rows[1]["temp"])
}

func TestParse_ShortAndLongRows(t *testing.T) {
	res := Parse([]byte("a,b,c\n1\n1,2,3,4\n"))

	require.True(t, res.OK, res.Error)
	assert.Equal(t, map[string]any{"a": 1.0, "b": nil, "c": nil}, res.Rows[0])
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, res.Rows[1])
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: "file is empty"},
		{name: "whitespace only", raw: " \n\n ", want: "file is empty"},
		{name: "header only", raw: "id,temp\n", want: "no data rows"},
		{name: "unterminated quote", raw: "id,temp\n1,\"220\n", want: "malformed CSV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse([]byte(tt.raw))
			assert.False(t, res.OK)
			assert.Contains(t, res.Error, tt.want)
			assert.Nil(t, res.Rows)
		})
	}
}

func TestNormalizeHeaders(t *testing.T) {
	assert.Equal(t, []string{"id", "column_2", "temp", "temp_2"}, normalizeHeaders([]string{" id ", "", "temp", "temp"}))
}

func TestTypedCell(t *testing.T) {
	assert.Equal(t, 1e3, typedCell("1e3"))
	assert.Equal(t, -4.0, typedCell(" -4 "))
	assert.Equal(t, "NaN", typedCell("NaN"))
	assert.Equal(t, "Inf", typedCell("Inf"))
	assert.Equal(t, "P0420", typedCell("P0420"))
	assert.Nil(t, typedCell("   "))
}

func TestSummarize(t *testing.T) {
	headers := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10", "c11"}
	ds := &types.Dataset{FileName: "fleet.csv", Headers: headers, Rows: make([]map[string]any, 3)}

	summary := Summarize(ds)

	assert.Equal(t, 3, summary["rows"])
	assert.Equal(t, 11, summary["columns"])
	assert.Len(t, summary["headers"], 10)
	assert.Equal(t, "fleet.csv", summary["file_name"])
}

func TestStage(t *testing.T) {
	var events []types.Event
	stage := Stage("fleet.csv", []byte("id,temp\n1,220\n"))
	state := pipeline.NewState(uuid.New())

	out := stage.Run(context.Background(), state, func(ev types.Event) { events = append(events, ev) })

	require.True(t, out.OK)
	ds, ok := out.Value.(*types.Dataset)
	require.True(t, ok)
	assert.Equal(t, "fleet.csv", ds.FileName)
	assert.Len(t, events, 2)
	assert.Equal(t, types.StageIngest, stage.ID())
}

func TestStage_InvalidInput(t *testing.T) {
	out := Stage("empty.csv", nil).Run(context.Background(), pipeline.NewState(uuid.New()), nil)

	require.False(t, out.OK)
	assert.Equal(t, types.ErrInputInvalid, out.Err.Kind)
	assert.Equal(t, types.StageIngest, out.Err.Stage)
	assert.Contains(t, out.Err.Message, "file is empty")
}
