package clog

import "log/slog"

// HTTPStatusToLevel picks the level a finished request is logged at. A client
// that hung up (499) is not a failure of ours.
func HTTPStatusToLevel(status int) slog.Level {
	switch {
	case status == 499:
		return slog.LevelInfo
	case status >= 100 && status < 400:
		return slog.LevelInfo
	case status >= 400 && status < 500:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
