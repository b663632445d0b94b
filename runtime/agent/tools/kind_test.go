package tools

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("analyzeCampaigns")
	require.True(t, ok)
	require.Equal(t, KindCampaignAnalyzer, k)
	require.True(t, k.ScopeAware())

	k, ok = ParseKind("searchBooks")
	require.True(t, ok)
	require.False(t, k.ScopeAware())

	_, ok = ParseKind("deleteEverything")
	require.False(t, ok)
	require.False(t, Kind("deleteEverything").Valid())
}

func TestResultConstructors(t *testing.T) {
	ok := OK(nil)
	require.True(t, ok.Success)
	require.NotNil(t, ok.Data)
	require.Empty(t, ok.Error)

	fail := Fail("")
	require.False(t, fail.Success)
	require.NotEmpty(t, fail.Error)
}
