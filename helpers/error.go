package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors joins non-nil errors into one, nil if there are none.
// Single error is returned as is, so errors.Is*() checks keep working.
func FoldErrors(errs []error) error {
	ss := make([]string, 0, len(errs))
	var single error
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
			single = e
		}
	}
	switch len(ss) {
	case 0:
		return nil
	case 1:
		return single
	}
	return errors.New(strings.Join(ss, "\n"))
}
