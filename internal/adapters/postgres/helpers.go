package postgres

import "github.com/kevin07696/billing-service/internal/domain/ports"

// executor picks the transaction when one is passed, else the pool. Repos
// take the executor per call so a service can group writes in one
// transaction via ports.DBPort.WithTransaction.
func executor(db ports.DBPort, dbtx ports.DBTX) ports.DBTX {
	if dbtx != nil {
		return dbtx
	}
	return db.GetDB()
}
