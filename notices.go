package accounts

import (
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// FlashLocalsKey is where the flash middleware exposes the data carried
// over from the previous request
var FlashLocalsKey = "flash"

const (
	flashMessageKey = "system_message"
	flashLevelKey   = "level"
)

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a one time message shown on a rendered page
type Notice struct {
	Level   NoticeLevel
	Message string
}

// flashNotice keeps the notice for the page rendered after a redirect
func flashNotice(c router.Context, level NoticeLevel, message string) router.Context {
	data := router.ViewContext{
		flashMessageKey: message,
		flashLevelKey:   string(level),
	}

	switch level {
	case NoticeSuccess, NoticeInfo:
		return flash.WithSuccess(c, data)
	default:
		return flash.WithError(c, data)
	}
}

// carriedNotices returns the notice flashed by the previous request
func carriedNotices(c router.Context) []Notice {
	data := flashData(c.Locals(FlashLocalsKey))

	message, _ := data[flashMessageKey].(string)
	if message == "" {
		return nil
	}

	level, _ := data[flashLevelKey].(string)
	if level == "" {
		level = string(NoticeInfo)
	}

	return []Notice{{Level: NoticeLevel(level), Message: message}}
}

func flashData(v any) map[string]any {
	if data, ok := v.(router.ViewContext); ok {
		return data
	}
	if data, ok := v.(map[string]any); ok {
		return data
	}
	return nil
}
