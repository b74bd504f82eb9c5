// Package persistence keeps an append-only journal of applied commands so an
// in-memory record store can be rebuilt after a restart.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// WAL is a JSON-lines command journal. It is safe for concurrent writers.
type WAL struct {
	mu      sync.Mutex
	file    *os.File
	entries int
}

// NewWAL opens path for appending, creating it if needed.
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &WAL{
		file: file,
	}, nil
}

// WriteCommand appends cmd as one JSON line and syncs the file.
func (w *WAL) WriteCommand(cmd interface{}) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return err
	}
	w.entries++
	return w.file.Sync()
}

// Entries returns how many commands this handle has written.
func (w *WAL) Entries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}

// Close closes the journal file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Replay feeds every journaled line of path to applyFunc in order.
// A missing journal is an empty one.
func Replay(path string, applyFunc func(cmdBytes []byte) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer file.Close()

	n := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		n++
		if err := applyFunc(scanner.Bytes()); err != nil {
			return n, fmt.Errorf("replay entry %d: %w", n, err)
		}
	}
	return n, scanner.Err()
}
