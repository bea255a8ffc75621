package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	for _, name := range []string{"all", "ads-success", "ads-error", "app-success", "app-error", "errors-only"} {
		f, err := ParseFilter(name)
		require.NoError(t, err)
		assert.Equal(t, Filter(name), f)
	}

	_, err = ParseFilter("bogus")
	var invalid *InvalidFilterError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "bogus", invalid.Filter)
}

func TestFilterMatch(t *testing.T) {
	ok := &FileCheck{StatusCode: 200, ResultText: "OK"}
	notFound := &FileCheck{StatusCode: 404, ResultText: "HTTP 404"}

	bothOK := &ItemResult{AdsTxt: ok, AppAdsTxt: ok}
	adsOnly := &ItemResult{AdsTxt: ok, AppAdsTxt: notFound}
	appOnly := &ItemResult{AdsTxt: notFound, AppAdsTxt: ok}
	failed := &ItemResult{Error: "Homepage detection failed: Timeout"}

	cases := []struct {
		filter Filter
		result *ItemResult
		want   bool
	}{
		{FilterAll, bothOK, true},
		{FilterAll, failed, true},
		{FilterAdsSuccess, bothOK, true},
		{FilterAdsSuccess, appOnly, false},
		{FilterAdsSuccess, failed, false},
		{FilterAdsError, appOnly, true},
		{FilterAdsError, bothOK, false},
		// an item-level failure means neither file was reached
		{FilterAdsError, failed, true},
		{FilterAppSuccess, bothOK, true},
		{FilterAppSuccess, adsOnly, false},
		{FilterAppError, adsOnly, true},
		{FilterAppError, bothOK, false},
		// no app-ads.txt sub-check at all is not an app error
		{FilterAppError, failed, false},
		{FilterErrorsOnly, bothOK, false},
		{FilterErrorsOnly, adsOnly, true},
		{FilterErrorsOnly, appOnly, true},
		{FilterErrorsOnly, failed, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.filter.Match(tc.result), "filter %s", tc.filter)
	}
}
