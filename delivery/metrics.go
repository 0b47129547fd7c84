package delivery

// QueueMetrics is returned by GetQueueMetrics.
type QueueMetrics struct {
	JobCounts

	// SuccessRate is completed/(completed+failed)·100, or 100 when no job
	// has finished.
	SuccessRate float64 `json:"successRate"`

	Merchant *MerchantMetrics `json:"merchant,omitempty"`
}

// MerchantMetrics groups one merchant's records by status.
type MerchantMetrics struct {
	MerchantID  string  `json:"merchantId"`
	Pending     int     `json:"pending"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"successRate"`
}

// SuccessRate returns completed/(completed+failed)·100, or 100 when both
// are zero.
func SuccessRate(completed, failed int) float64 {
	total := completed + failed
	if total == 0 {
		return 100
	}
	return float64(completed) / float64(total) * 100
}
