package redis

import "github.com/xraph/coord/codec"

func jobKey(id string) string { return codec.Key(codec.KindJob, id) }
func taskKey(id string) string { return codec.Key(codec.KindTask, id) }
func workerKey(id string) string { return codec.Key(codec.KindWorker, id) }
func jobTasksKey(jobID string) string { return codec.Key(codec.KindJobTasks, jobID) }
func remainingKey(jobID string) string { return codec.Key(codec.KindJobRemaining, jobID) }
func sealedKey(jobID string) string { return codec.Key(codec.KindJobSealed, jobID) }
func inflightKey(workerID string) string { return codec.Key(codec.KindInflight, workerID) }
func counterKey(name string) string { return codec.Key(codec.KindCounter, name) }
