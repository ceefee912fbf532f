package notify

import (
	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

// Sink presents a user-facing message. The CLI prints to stderr; a
// test wires a recording sink.
type Sink interface {
	Notify(message string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(message string)

// Notify implements Sink.
func (f SinkFunc) Notify(message string) { f(message) }

// Reporter is the last-resort error sink. Anything that escapes
// command handling lands here: the full error goes to the log, the
// user sees only the classified friendly message.
type Reporter struct {
	sink Sink
	log  *logging.Logger
}

// NewReporter creates the fallback reporter. A nil sink logs only.
func NewReporter(sink Sink, log *logging.Logger) *Reporter {
	return &Reporter{
		sink: sink,
		log:  log.With("component", "notify"),
	}
}

// Report logs the error with full detail and surfaces the user-facing
// message. Raw provider text never reaches the sink.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}

	r.log.Error("unhandled error", "kind", gateway.KindOf(err), "error", err)

	if r.sink != nil {
		r.sink.Notify(gateway.UserMessage(err))
	}
}
