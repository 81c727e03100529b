package postgres_test

// rowStub implements pgx.Row for the cleanup tests' inline fakeTx.
type rowStub struct {
	scan func(dest ...any) error
}

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }
