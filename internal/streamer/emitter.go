package streamer

import "github.com/satriahrh/arunika/streamer/domain/repositories"

// emitter fans the events of one stream out to its observers, synchronously
// and in registration order. Observers are registered before the stream's
// receive loop starts and never change afterwards.
type emitter struct {
	data []func(*repositories.StreamResponse)
	errs []func(error)
}

func (e *emitter) onData(fn func(*repositories.StreamResponse)) {
	if fn != nil {
		e.data = append(e.data, fn)
	}
}

func (e *emitter) onError(fn func(error)) {
	if fn != nil {
		e.errs = append(e.errs, fn)
	}
}

func (e *emitter) emitData(resp *repositories.StreamResponse) {
	for _, fn := range e.data {
		fn(resp)
	}
}

// emitError reports whether any observer received err
func (e *emitter) emitError(err error) bool {
	for _, fn := range e.errs {
		fn(err)
	}
	return len(e.errs) > 0
}
