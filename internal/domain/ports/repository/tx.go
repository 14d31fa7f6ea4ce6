package repository

// Tx is an infra-defined execution handle (pgx.Tx, *sql.Tx, a pool, ...).
// Repositories MUST accept a nil Tx and fall back to their own pool.
type Tx interface{}

var NoTX Tx
