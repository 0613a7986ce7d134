package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeLabel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"oil-filter", "oil-filter"},
		{"oil filter", "oil_filter"},
		{"Valve #3 (left)", "Valve_3_left"},
		{"pump..stage", "pump..stage"},
		{"../../etc/passwd", "etc_passwd"},
		{"/abs/path", "abs_path"},
		{"  padded  ", "padded"},
		{"a  b   c", "a_b_c"},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := SafeLabel(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSafeLabelRejectsDegenerateInput(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", ".", "..", "...", "___", "---", "///", "!!!", "日本語"} {
		_, err := SafeLabel(in)
		require.ErrorIs(t, err, ErrInvalidLabel, "input %q", in)
	}
}
