package app

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// writer serializes lines written by concurrent scan tasks.
type writer struct {
	f io.WriteCloser
	m sync.Mutex
}

func NewWriter(path string) (*writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &writer{
		f: f,
	}, nil
}

func (w *writer) WriteLine(format string, args ...interface{}) {
	if w == nil {
		return
	}

	w.m.Lock()
	defer w.m.Unlock()

	fmt.Fprintln(w.f, fmt.Sprintf(format, args...))
}

func (w *writer) Close() error {
	if w == nil {
		return nil
	}

	w.m.Lock()
	defer w.m.Unlock()

	return w.f.Close()
}
