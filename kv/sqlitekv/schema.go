package sqlitekv

// Schema DDL. Every key lives in exactly one of the three value tables;
// kv_expiry holds optional deadlines in Unix nanoseconds.
const (
	createHash = `CREATE TABLE IF NOT EXISTS kv_hash (
    k TEXT NOT NULL,
    f TEXT NOT NULL,
    v TEXT NOT NULL,
    PRIMARY KEY (k, f)
);`

	createSet = `CREATE TABLE IF NOT EXISTS kv_set (
    k TEXT NOT NULL,
    m TEXT NOT NULL,
    PRIMARY KEY (k, m)
);`

	createString = `CREATE TABLE IF NOT EXISTS kv_string (
    k TEXT PRIMARY KEY,
    v TEXT NOT NULL
);`

	createExpiry = `CREATE TABLE IF NOT EXISTS kv_expiry (
    k TEXT PRIMARY KEY,
    at INTEGER NOT NULL
);`
)

var schemaStatements = []string{createHash, createSet, createString, createExpiry}
