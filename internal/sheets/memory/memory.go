package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"housebill/internal/notify"
	ports "housebill/internal/sheets"
)

var _ ports.StatementWriter = (*Store)(nil)

// DefaultCapacity is how many statements a Store keeps when New is given no
// capacity.
const DefaultCapacity = 500

// Store keeps the most recently exported statements in memory. It stands in
// for Google Sheets when no spreadsheet is configured.
type Store struct {
	mu         sync.Mutex
	capacity   int
	statements []notify.Statement
	rows       int
}

// New creates a store keeping at most capacity statements, or
// DefaultCapacity when capacity is not positive.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// AppendStatement stores the statement and returns a synthetic row range.
func (s *Store) AppendStatement(_ context.Context, st notify.Statement) (string, error) {
	if st.Housemate == "" {
		return "", errors.New("statement has no housemate")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.rows + 1
	s.rows += len(st.Lines) + 2 // opening and closing rows
	if len(s.statements) == s.capacity {
		s.statements = append(s.statements[:0], s.statements[1:]...)
	}
	s.statements = append(s.statements, st)
	return fmt.Sprintf("mem:%d-%d", first, s.rows), nil
}

// Statements returns the retained statements, oldest first.
func (s *Store) Statements() []notify.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Statement(nil), s.statements...)
}
