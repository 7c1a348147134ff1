package monitor

import "time"

type Status struct {
	Services   map[string]bool `json:"services"`
	BufferSize int             `json:"buffer_size"`
	LastCheck  time.Time       `json:"last_check"`
}
