package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs fn in a goroutine. A panic is logged with its stack and handed
// to onPanic, so a misbehaving vendor adapter cannot take the process down.
func SafeGo(fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			slog.Error("Panic recovered", "panic", r, "stack", string(debug.Stack()))
			if onPanic != nil {
				onPanic(r)
			}
		}()
		fn()
	}()
}
