//go:build integration

// Package testdb provides utilities for tests that run against a real
// PostgreSQL database.
//
// Each test runs in its own transaction, which is rolled back when the test
// completes, so tests can run in parallel without cleaning up after
// themselves:
//
//	func TestQueueOrder(t *testing.T) {
//	    t.Parallel()
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        queue := postgres.NewPostgresQueueStore(tx, testdb.Tables, nil)
//	        // ...
//	    })
//	}
//
// The connection string is read from ORTHOFLOW_TEST_DATABASE_URL, falling
// back to DATABASE_URL. Tests are skipped when neither is set. The schema is
// migrated once per test binary into the "it_" table set.
package testdb
