package persistence

// BulkInsertForTest exposes statement rendering to the external tests.
func BulkInsertForTest(table string, columns []string, conflict string) func([][]any) ([]string, [][]any) {
	return bulkInsert{table: table, columns: columns, conflict: conflict}.statements
}
