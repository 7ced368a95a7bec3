package redis

// Key layout. Everything lives under one prefix so multiple
// applications can share a Redis instance.
//
//	stride:job:<id>        hash of job fields
//	stride:queue:<name>    zset of ready job ids, scored by priority
//	                       and ready time
//	stride:delayed         zset of parked job ids, scored by run_at
//	stride:dlq:<id>        hash of entry fields
//	stride:dlq:index       zset of entry ids, scored by failed_at
const (
	keyPrefix   = "stride:"
	keyJob      = keyPrefix + "job:"
	keyQueue    = keyPrefix + "queue:"
	keyDelayed  = keyPrefix + "delayed"
	keyDLQ      = keyPrefix + "dlq:"
	keyDLQIndex = keyPrefix + "dlq:index"
)

func jobKey(id string) string     { return keyJob + id }
func queueKey(name string) string { return keyQueue + name }
func dlqKey(id string) string     { return keyDLQ + id }

// readyScore orders ready jobs so that ZPopMin delivers the highest
// priority first and, within a priority, the longest waiting first.
// Millisecond timestamps stay below 1e13 for the next two centuries,
// so the priority term dominates.
func readyScore(priority int, readyAtMs int64) float64 {
	return float64(-priority)*1e13 + float64(readyAtMs)
}
