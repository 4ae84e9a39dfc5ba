package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the memories and settings tables.
// It is intended for use in tests only. The method is defined in the postgres
// package (not the _test package) so it has access to the unexported db
// field. It is still exported so that the postgres_test package can call it.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("failed to truncate memories: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE settings"); err != nil {
		return fmt.Errorf("failed to truncate settings: %w", err)
	}
	return nil
}
