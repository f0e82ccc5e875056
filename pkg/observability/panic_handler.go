package observability

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack. Call it directly in a
// defer; the panic is swallowed.
//
//	defer observability.RecoverPanic(logger, "route table watcher")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// PanicError turns a value returned by recover into an error, or nil when
// nothing panicked
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic": fmt.Sprint(r),
		"stack": string(debug.Stack()),
		"where": where,
	}).Error("PANIC recovered")
}

// RecoveryMiddleware turns a handler panic into a logged 500 carrying the
// request ID. A panic after the handler started writing only gets logged.
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log := logger
				if id := GetRequestID(r.Context()); id != "" {
					log = log.WithField("request_id", id)
				}
				logPanic(log.WithField("method", r.Method), r.URL.Path, rec)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":      "internal server error",
					"request_id": w.Header().Get(RequestHeaderID),
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
