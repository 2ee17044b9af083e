package models

// ViolationCount — количество нарушений по одной категории.
type ViolationCount struct {
	Category ViolationCategory `db:"category" json:"category"`
	Count    int64             `db:"count" json:"count"`
}

// AdminStats — сводка по сервису для админ-панели.
type AdminStats struct {
	TotalSessions    int64            `json:"total_sessions"`
	ActiveSessions   int64            `json:"active_sessions"`
	FinishedSessions int64            `json:"finished_sessions"`
	TotalTurns       int64            `json:"total_turns"`
	Violations       []ViolationCount `json:"violations"`
}
