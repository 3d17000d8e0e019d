package ir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ignoreNodeState drops ids and memo slots from plan comparisons.
var ignoreNodeState = cmpopts.IgnoreUnexported(
	TableScan{}, Projection{}, Filter{}, Aggregate{}, CloudBoundary{},
	NetworkBoundary{}, StaticCache{}, DynamicCache{}, HashIndexBuild{},
	HashIndexProbe{}, SpatialIndexBuild{}, SpatialIndexProbe{},
	PrefixSumBuild{}, PrefixSumProbe{}, PrefixSum2DBuild{},
	PrefixSum2DProbe{}, ChoicePlan{},
)

func TestExportRoundTripEveryKind(t *testing.T) {
	for name, p := range allKinds() {
		t.Run(name, func(t *testing.T) {
			data, err := MarshalPlan(p, NewSequence())
			require.NoError(t, err)

			back, err := UnmarshalPlan(data)
			require.NoError(t, err)

			if diff := cmp.Diff(p, back, ignoreNodeState); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			again, err := MarshalPlan(back, NewSequence())
			require.NoError(t, err)
			assert.Equal(t, string(data), string(again))
		})
	}
}

func TestExportAssignsSequentialIDs(t *testing.T) {
	p := NewNetwork(NewCloud(NewTableScan("t")))
	seq := NewSequenceAt(100)

	out := Export(p, seq)

	assert.Equal(t, int64(101), out["id"])
	assert.Equal(t, "Network", out["type"])
	assert.Equal(t, int64(103), seq.Current())
	// Ids already assigned are kept on a second export.
	assert.Equal(t, int64(101), Export(p, seq)["id"])
}

func TestExportFormat(t *testing.T) {
	p := NewFilter(NewTableScan("t"), Eq(Col("a"), Int(1)))

	data, err := MarshalPlan(p, NewSequence())
	require.NoError(t, err)

	assert.Equal(t,
		`{"cond":{"op":"=","operands":[{"column":"a","table":"","type":"ColumnRef"},{"type":"IntConst","value":1}],"type":"Op"},`+
			`"id":1,"input":{"id":2,"name":"t","type":"TableSource"},"type":"Filter"}`,
		string(data))
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		path string
	}{
		{"not json", `{`, "$"},
		{"not an object", `[]`, "$"},
		{"unknown plan", `{"type":"Sort","id":1}`, "$"},
		{"missing input", `{"type":"Cloud","id":1}`, "$.input"},
		{"bad expr", `{"type":"Filter","id":1,"input":{"type":"TableSource","name":"t","id":2},"cond":{"type":"Regex"}}`, "$.cond"},
		{"fractional int", `{"type":"Filter","id":1,"input":{"type":"TableSource","name":"t","id":2},"cond":{"type":"IntConst","value":1.5}}`, "$.cond.value"},
		{"bad id", `{"type":"TableSource","name":"t","id":"x"}`, "$.id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalPlan([]byte(tt.data))
			require.Error(t, err)

			var ie *ImportError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.path, ie.Path)
		})
	}
}

func TestBundleRoundTrip(t *testing.T) {
	b := &Bundle{
		Plans: map[string]Plan{"--server": rangeView(), "--client": NewNetwork(NewCloud(NewTableScan("t")))},
		Values: map[string][]DomainValue{
			"lo":    {{Type: "Int", Value: 1}, {Type: "Int", Value: 2}},
			"which": {{Type: "Index", Value: 0}, {Type: "Index", Value: 1}},
		},
		Tasks: map[string][]TaskStep{"--server": {{"which"}, {"lo", "hi"}}},
	}

	data, err := MarshalBundle(b, NewSequence())
	require.NoError(t, err)

	back, err := UnmarshalBundle(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"--client", "--server"}, back.PlanNames())
	assert.Equal(t, []TaskStep{{"which"}, {"lo", "hi"}}, back.Tasks["--server"])
	require.Len(t, back.Values["lo"], 2)
	assert.Equal(t, "Int", back.Values["lo"][0].Type)
	assert.True(t, Equal(b.Plans["--server"], back.Plans["--server"]))

	again, err := MarshalBundle(back, NewSequence())
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestTaskStepEncoding(t *testing.T) {
	data, err := MarshalCanonical([]TaskStep{{"a"}, {"b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, `["a",["b","c"]]`, string(data))
}

func TestUnmarshalBundleRejectsUnknownFields(t *testing.T) {
	_, err := UnmarshalBundle([]byte(`{"plans":{},"extra":1}`))
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*ImportError))
}
