package wemfs

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

var TraceEnabled = true

func traceValue(v interface{}, deref bool) string {
	if b, ok := v.([]byte); ok {
		if len(b) > 16 {
			return fmt.Sprintf("[% 02x ...] (len = %d)", b[:16], len(b))
		}
		return fmt.Sprintf("[% 02x]", b)
	}
	if deref {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && !rv.IsNil() {
			return traceValue(rv.Elem().Interface(), false)
		}
	}
	return fmt.Sprintf("%#v", v)
}

func traceJoin(deref bool, vals ...interface{}) string {
	res := make([]string, 0, len(vals))
	for _, v := range vals {
		res = append(res, traceValue(v, deref))
	}
	return strings.Join(res, ", ")
}

// Trace logs a filesystem callback. Call it as
//
//	defer Trace(path, fh)(&err, &errno)
//
// so the result is logged when the callback returns.
func Trace(params ...interface{}) func(err *error, errno *int, vals ...interface{}) {
	if !TraceEnabled {
		return func(err *error, errno *int, vals ...interface{}) {}
	}

	funcName := "<UNKNOWN>"
	if pc, _, _, ok := runtime.Caller(1); ok {
		parts := strings.Split(runtime.FuncForPC(pc).Name(), ".")
		funcName = parts[len(parts)-1]
	}
	args := traceJoin(false, params...)

	return func(err *error, errno *int, vals ...interface{}) {
		entry := log.WithFields(log.Fields{
			"op":   funcName,
			"args": args,
		})

		if recovered := recover(); recovered != nil {
			entry.Errorf("!PANIC:%v", recovered)
			entry.Error("Stack trace:\n" + string(debug.Stack()))
			panic(recovered)
		}

		result := "(" + traceJoin(true, append([]interface{}{err, errno}, vals...)...) + ")"
		if *err != nil || *errno < 0 {
			entry.Warn(result)
		} else {
			entry.Debug(result)
		}
	}
}
