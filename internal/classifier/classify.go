package classifier

import (
	"errors"
	"strings"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

var messageKinds = []struct {
	needle string
	kind   crawler.FailureKind
}{
	{"net::err_timed_out", crawler.KindTimeout},
	{"i/o timeout", crawler.KindTimeout},
	{"deadline exceeded", crawler.KindTimeout},
	{"net::err_", crawler.KindNetwork},
	{"connection refused", crawler.KindNetwork},
	{"connection reset", crawler.KindNetwork},
	{"no such host", crawler.KindNetwork},
	{"out of memory", crawler.KindResourceExhaustion},
	{"too many open files", crawler.KindResourceExhaustion},
	{"target closed", crawler.KindResourceExhaustion},
	{"page crashed", crawler.KindResourceExhaustion},
}

// Classify maps err to a FailureKind. Explicit kinds attached with
// crawler.Fail win, except navigation: a page load failure whose message
// names a timeout, network or crash is refined to that kind. Otherwise
// well-known browser and network messages are matched before falling back
// to unknown.
func Classify(err error) crawler.FailureKind {
	if err == nil {
		return ""
	}
	kind := crawler.KindOf(err)
	var failure *crawler.Failure
	explicit := errors.As(err, &failure) || kind == crawler.KindCanceled
	if explicit && kind != crawler.KindUnknown && kind != crawler.KindNavigation {
		return kind
	}
	msg := strings.ToLower(err.Error())
	for _, m := range messageKinds {
		if strings.Contains(msg, m.needle) {
			return m.kind
		}
	}
	return kind
}
