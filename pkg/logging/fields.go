package logging

import "log/slog"

// Domain identifiers

func Account(id string) slog.Attr {
	return slog.String("account_id", id)
}

func Connection(id string) slog.Attr {
	return slog.String("connection_id", id)
}

func Viewer(id string) slog.Attr {
	return slog.String("viewer_id", id)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Request / tracing

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
