package convert

// Batch is the background conversion of one [Converter.Intercept] call.
type Batch struct {
	done    chan struct{}
	files   int
	results []FileResult
}

// emptyBatch returns a batch that is already done and holds no results.
func emptyBatch() *Batch {
	b := &Batch{done: make(chan struct{})}
	close(b.done)
	return b
}

// Len returns the number of MP3 files in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return b.files
}

// Done returns a channel that is closed once every file has been processed.
func (b *Batch) Done() <-chan struct{} {
	if b == nil {
		return closedChan
	}
	return b.done
}

// Wait blocks until the batch has finished and returns one result per MP3
// file, in input order.
func (b *Batch) Wait() []FileResult {
	if b == nil {
		return nil
	}
	<-b.done
	return b.results
}

// Failed returns the results that did not end in a posted voice message.
// It blocks like [Batch.Wait].
func (b *Batch) Failed() []FileResult {
	var failed []FileResult
	for _, r := range b.Wait() {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
