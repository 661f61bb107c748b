package transcript

import (
	"strings"
	"sync"
)

// Accumulator builds the running transcript of one presentation from finalized speech segments.
type Accumulator struct {
	mu     sync.Mutex
	buf    strings.Builder
	frozen bool
	subs   []func(string)
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds a segment verbatim. Appends after Freeze are dropped until Reset.
func (a *Accumulator) Append(segment string) {
	if segment == "" {
		return
	}
	a.mu.Lock()
	if a.frozen {
		a.mu.Unlock()
		return
	}
	a.buf.WriteString(segment)
	text := a.buf.String()
	subs := append([]func(string){}, a.subs...)
	a.mu.Unlock()

	for _, fn := range subs {
		fn(text)
	}
}

// String returns the live transcript.
func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Reset empties the transcript and accepts appends again.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.buf.Reset()
	a.frozen = false
	subs := append([]func(string){}, a.subs...)
	a.mu.Unlock()

	for _, fn := range subs {
		fn("")
	}
}

// Freeze stops accepting segments and returns the trimmed transcript.
func (a *Accumulator) Freeze() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true
	return strings.TrimSpace(a.buf.String())
}

// Frozen reports whether Freeze was called since the last Reset.
func (a *Accumulator) Frozen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frozen
}

// Subscribe registers fn to receive the full transcript after every change.
func (a *Accumulator) Subscribe(fn func(string)) {
	a.mu.Lock()
	a.subs = append(a.subs, fn)
	a.mu.Unlock()
}

// WordCount counts whitespace-delimited words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
