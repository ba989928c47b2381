package observer

import "log/slog"

// LoggerObserver writes every event to a structured logger. Registered by
// default in most deployments since it never fails to "deliver".
type LoggerObserver struct {
	logger *slog.Logger
}

// NewLoggerObserver returns a LoggerObserver writing through logger.
func NewLoggerObserver(logger *slog.Logger) *LoggerObserver {
	return &LoggerObserver{logger: logger}
}

func (o *LoggerObserver) Name() string { return "logger" }

func (o *LoggerObserver) Filter(Event) bool { return true }

func (o *LoggerObserver) OnEvent(e Event) {
	o.logger.Info("dispatch event",
		"type", e.Type,
		"dispatch_id", e.DispatchID,
		"status", e.Doc.Status,
		"seq", e.Seq,
	)
}
