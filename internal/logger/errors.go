package logger

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/dnyoussef/hooklog/internal/model"
)

const maxStackFrames = 32

// errorInfo normalizes err into the canonical shape. skip is the number of
// frames between the caller of errorInfo and the logging call site.
func errorInfo(err error, includeStack bool, skip int) *model.ErrorInfo {
	if err == nil {
		return nil
	}

	var info model.ErrorInfo
	if ei, ok := err.(*model.ErrorInfo); ok && ei != nil {
		info = *ei
	} else {
		info = model.ErrorInfo{
			Name:    typeName(err),
			Message: safeMessage(err),
			Code:    errorCode(err),
			Stack:   providedStack(err),
		}
	}

	if !includeStack {
		info.Stack = ""
	} else if info.Stack == "" {
		info.Stack = callerStack(skip + 1)
	}
	return &info
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return strings.TrimPrefix(t.String(), "*")
}

// safeMessage calls err.Error, which for user types may panic.
func safeMessage(err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("<error message unavailable: %v>", r)
		}
	}()
	return err.Error()
}

func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return strconv.Itoa(int(errno))
	}
	var ei *model.ErrorInfo
	if errors.As(err, &ei) && ei != nil {
		return ei.Code
	}
	return ""
}

func providedStack(err error) string {
	switch s := err.(type) {
	case interface{ StackTrace() string }:
		return s.StackTrace()
	case interface{ Stack() string }:
		return s.Stack()
	}
	return ""
}

func callerStack(skip int) string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
