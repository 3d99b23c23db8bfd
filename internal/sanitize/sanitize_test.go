package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString_StripsMarkup(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Acme Industries", String("<b>Acme</b> Industries"))
	require.Equal(t, "alert(1)", String("<script>alert(1)</script>"))
	require.Equal(t, "plain text", String("  plain text  "))
	require.Equal(t, "", String(""))
}

func TestValue_WalksNestedPayloads(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"<i>company</i>": "<b>Titagarh</b> Rail",
		"orders": []any{
			map[string]any{"title": "<script>x</script>Receipt of Order"},
			"plain",
		},
		"progress": float64(42),
		"running":  true,
	}

	out, ok := Value(in).(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Titagarh Rail", out["company"])
	require.Equal(t, float64(42), out["progress"])
	require.Equal(t, true, out["running"])

	orders, ok := out["orders"].([]any)
	require.True(t, ok)
	first, ok := orders[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "xReceipt of Order", first["title"])
	require.Equal(t, "plain", orders[1])
}

func TestValue_LeavesNonStringsAlone(t *testing.T) {
	t.Parallel()

	require.Equal(t, float64(7), Value(float64(7)))
	require.Equal(t, nil, Value(nil))
	require.Equal(t, true, Value(true))
}
