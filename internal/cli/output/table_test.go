package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTable struct {
	headers []string
	rows    [][]string
}

func (t testTable) Headers() []string { return t.headers }
func (t testTable) Rows() [][]string  { return t.rows }

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	err := PrintTable(&buf, testTable{
		headers: []string{"NAME", "STATUS"},
		rows: [][]string{
			{"alpha", "active"},
			{"beta", "inactive"},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "inactive")
}

func TestPrintTableEmpty(t *testing.T) {
	var buf bytes.Buffer

	err := PrintTable(&buf, testTable{headers: []string{"NAME"}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "NAME")
}
