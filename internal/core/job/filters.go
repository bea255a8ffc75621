package job

// Filter names a predicate over ItemResult categories for the results API.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterAdsSuccess Filter = "ads-success"
	FilterAdsError   Filter = "ads-error"
	FilterAppSuccess Filter = "app-success"
	FilterAppError   Filter = "app-error"
	FilterErrorsOnly Filter = "errors-only"
)

// ParseFilter validates a filter name; the empty string means "all".
func ParseFilter(name string) (Filter, error) {
	if name == "" {
		return FilterAll, nil
	}
	switch f := Filter(name); f {
	case FilterAll, FilterAdsSuccess, FilterAdsError, FilterAppSuccess, FilterAppError, FilterErrorsOnly:
		return f, nil
	}
	return "", &InvalidFilterError{Filter: name}
}

// Match applies the filter predicate to one result row.
//
// A row with an item-level error counts as an ads error and an errors-only
// match; a missing sub-check never counts as a success.
func (f Filter) Match(r *ItemResult) bool {
	switch f {
	case FilterAll:
		return true
	case FilterAdsSuccess:
		return r.AdsTxt.OK()
	case FilterAdsError:
		return r.Error != "" || (r.AdsTxt != nil && !r.AdsTxt.OK())
	case FilterAppSuccess:
		return r.AppAdsTxt.OK()
	case FilterAppError:
		return r.AppAdsTxt != nil && !r.AppAdsTxt.OK()
	case FilterErrorsOnly:
		return r.Error != "" ||
			(r.AdsTxt != nil && !r.AdsTxt.OK()) ||
			(r.AppAdsTxt != nil && !r.AppAdsTxt.OK())
	}
	return false
}

// FilterCounts holds per-filter row counts for the results view.
type FilterCounts struct {
	All        int `json:"all"`
	AdsSuccess int `json:"ads-success"`
	AdsError   int `json:"ads-error"`
	AppSuccess int `json:"app-success"`
	AppError   int `json:"app-error"`
	ErrorsOnly int `json:"errors-only"`
}
