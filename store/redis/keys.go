package redis

// Key prefixes for primary entity storage.
const (
	prefixJob      = "payhook:job:"
	prefixRecord   = "payhook:rec:"
	prefixEndpoint = "payhook:ep:"
	prefixAlert    = "payhook:alert:"
)

// Key prefixes for unique indexes.
const (
	uniqueJob    = "payhook:u:job:"
	uniqueRecord = "payhook:u:rec:"
)

// Key prefixes for sorted set indexes.
const (
	zJobPending     = "payhook:z:job:pending" // score: next attempt
	zJobActive      = "payhook:z:job:active"  // score: lease expiry
	zRecordAll      = "payhook:z:rec:all"
	zRecordStatus   = "payhook:z:rec:status:"   // + status
	zRecordMerchant = "payhook:z:rec:merchant:" // + merchant ID
	zEndpointMerch  = "payhook:z:ep:merchant:"  // + merchant ID
	zAlertAll       = "payhook:z:alert:all"
	zAlertMerchant  = "payhook:z:alert:merchant:" // + merchant ID
)

// Key prefixes for set indexes.
const (
	sJobStatePrefix  = "payhook:s:job:state:" // + completed|failed
	sAlertUnackedAll = "payhook:s:alert:unacked"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// jobStateSetKey returns the set holding jobs in a terminal state.
func jobStateSetKey(state string) string {
	return sJobStatePrefix + state
}
