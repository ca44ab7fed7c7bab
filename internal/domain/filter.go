package domain

// FilterVerdict classifies the outcome of one eligibility filter applied to
// one event or token.
type FilterVerdict int

const (
	// FilterAccept passes the item to the next filter in the chain.
	FilterAccept FilterVerdict = iota
	// FilterSkip drops the item with a reason; the enclosing loop continues.
	FilterSkip
	// FilterFail drops the item because a dependency errored; the enclosing
	// loop continues. Distinguished from FilterSkip for observability.
	FilterFail
)

// FilterResult is the explicit per-item outcome returned by every filter,
// replacing exception-style control flow with a value the chain can log.
type FilterResult struct {
	Verdict FilterVerdict
	Reason  string
	Err     error
}

// Accept returns a passing result.
func Accept() FilterResult { return FilterResult{Verdict: FilterAccept} }

// Skip returns a skipping result with a human-readable reason.
func Skip(reason string) FilterResult {
	return FilterResult{Verdict: FilterSkip, Reason: reason}
}

// FailFilter returns an erroring result; reason names the failed dependency.
func FailFilter(reason string, err error) FilterResult {
	return FilterResult{Verdict: FilterFail, Reason: reason, Err: err}
}

// OK reports whether the item survived the filter.
func (r FilterResult) OK() bool { return r.Verdict == FilterAccept }
