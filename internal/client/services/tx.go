package services

import (
	"github.com/trialware/diarysync/internal/client/repositories/events"
	"github.com/trialware/diarysync/internal/client/repositories/queue"
	"github.com/trialware/diarysync/internal/dbx"
)

// Transaction-scoped repository constructors, so multi-table writes commit
// or roll back together.

func txEvents(tx dbx.DBTX) events.Repository {
	return events.NewSQLiteRepository(tx)
}

func txQueue(tx dbx.DBTX) queue.Repository {
	return queue.NewSQLiteRepository(tx)
}
