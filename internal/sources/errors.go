package sources

import (
	"fmt"
	"strings"
)

type StrategyFailure struct {
	Strategy string
	Err      error
}

// DownloadError lists why every acquisition strategy failed, in order.
type DownloadError struct {
	URL      string
	Failures []StrategyFailure
}

func (e *DownloadError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Strategy, f.Err))
	}
	return fmt.Sprintf("all %d strategies failed for %s [%s]", len(e.Failures), e.URL, strings.Join(parts, "; "))
}

func (e *DownloadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
