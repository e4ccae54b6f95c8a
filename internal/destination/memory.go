package destination

import (
	"context"
	"sync"
)

// Memory is an in-process Destination used for dry runs and tests
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]Row
}

// NewMemory returns an empty in-memory destination
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]Row)}
}

// Lookup scans table for a row matching key
func (m *Memory) Lookup(ctx context.Context, table string, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, row := range m.tables[table] {
		if key.Matches(row) {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Insert stores a copy of row
func (m *Memory) Insert(ctx context.Context, table string, row Row) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	row, id := withID(row)

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]Row)
		m.tables[table] = rows
	}
	if _, exists := rows[id]; exists {
		return "", ErrDuplicate
	}

	stored := make(Row, len(row))
	for k, v := range row {
		stored[k] = v
	}
	rows[id] = stored
	return id, nil
}

// Get returns a copy of the row with id
func (m *Memory) Get(ctx context.Context, table, id string) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.tables[table][id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, nil
}

// Count returns the number of rows in table
func (m *Memory) Count(ctx context.Context, table string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.tables[table])), nil
}

// Delete removes a row; it exists so operators and tests can simulate data loss
func (m *Memory) Delete(table, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table][id]; !ok {
		return false
	}
	delete(m.tables[table], id)
	return true
}

// Update overwrites a single column of a stored row
func (m *Memory) Update(table, id, column string, value interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.tables[table][id]
	if !ok {
		return false
	}
	row[column] = value
	return true
}

// Rows returns copies of every row in table
func (m *Memory) Rows(table string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
