package db

// OpsLogEntry is one structured operations-log row. Message carries the
// key=value convention (trace_id=…, stage=…, status=…).
type OpsLogEntry struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TS      int64  `gorm:"column:ts;not null;index"`
	Level   string `gorm:"column:level;not null;default:'info';index"`
	Event   string `gorm:"column:event;not null;index"`
	Role    string `gorm:"column:role;not null;default:''"`
	Script  string `gorm:"column:script;not null;default:''"`
	Message string `gorm:"column:message;not null;default:''"`
}

func (OpsLogEntry) TableName() string { return "ops_log" }

// DayStatsBucket is one day's counters keyed by local date YYYY-MM-DD.
type DayStatsBucket struct {
	Date           string `gorm:"column:date;primaryKey"`
	LineSent       int64  `gorm:"column:line_sent;not null;default:0"`
	LineReceived   int64  `gorm:"column:line_received;not null;default:0"`
	LineEcho       int64  `gorm:"column:line_echo;not null;default:0"`
	TmuxSent       int64  `gorm:"column:tmux_sent;not null;default:0"`
	TmuxCompletion int64  `gorm:"column:tmux_completion;not null;default:0"`
	TmuxQuestion   int64  `gorm:"column:tmux_question;not null;default:0"`
	APIRequests    int64  `gorm:"column:api_requests;not null;default:0"`
	FirstEventAt   int64  `gorm:"column:first_event_at;not null;default:0"`
	LastEventAt    int64  `gorm:"column:last_event_at;not null;default:0"`
}

func (DayStatsBucket) TableName() string { return "day_stats" }
