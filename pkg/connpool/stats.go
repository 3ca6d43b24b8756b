package connpool

// Stats is a point-in-time summary of the pool.
type Stats struct {
	ActiveCount                 int     `json:"activeCount"`
	HealthyCount                int     `json:"healthyCount"`
	UniqueUserCount             int     `json:"uniqueUserCount"`
	AverageConnectionAgeSeconds float64 `json:"averageConnectionAgeSeconds"`
	TotalConnectionsServed      int64   `json:"totalConnectionsServed"`
	PeakConnections             int     `json:"peakConnections"`
	RejectedConnections         int64   `json:"rejectedConnections"`
	UtilizationPercentage       float64 `json:"utilizationPercentage"`
	ConnectionSuccessRate       float64 `json:"connectionSuccessRate"`
	ClosedDisconnects           int64   `json:"closedDisconnects"`
	ErrorDisconnects            int64   `json:"errorDisconnects"`
	UnhealthyDisconnects        int64   `json:"unhealthyDisconnects"`
}

// successRate is served/(served+rejected) as a percentage, 100 with no attempts.
func successRate(served, rejected int64) float64 {
	total := served + rejected
	if total == 0 {
		return 100
	}
	return float64(served) / float64(total) * 100
}
