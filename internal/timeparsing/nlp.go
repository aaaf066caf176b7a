package timeparsing

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var nlParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseNatural resolves a natural-language expression ("tomorrow 5pm",
// "next friday") relative to now. It returns the resolved instant, the
// matched fragment of the input, and whether anything matched.
func ParseNatural(s string, now time.Time) (time.Time, string, bool) {
	r, err := nlParser.Parse(s, now)
	if err != nil || r == nil {
		return time.Time{}, "", false
	}
	return r.Time, r.Text, true
}
