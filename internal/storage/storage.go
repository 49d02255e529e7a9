package storage

import "idoScope/internal/model"

// Storage is a sink for raw log records. The indexer and the simulator both
// write through it.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}
