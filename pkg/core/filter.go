package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

type FilterContext struct {
	context.Context
	*PageVFS

	// Path is the cleaned request path, always starting with "/".
	Path      string
	RequestID string
}

type Params map[string]any

func (f Params) String() string {
	marshal, _ := json.Marshal(f)
	return strings.ReplaceAll(string(marshal), "\"", "'")
}

func (f Params) Unmarshal(target any) error {
	marshal, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(marshal, target)
}

type Filter struct {
	Type   string `json:"type"`
	Params Params `json:"params"`
	Call   FilterCall
}

func NextCallWrapper(call FilterCall, parentCall NextCall, stack Filter) NextCall {
	return func(ctx FilterContext, writer http.ResponseWriter, request *http.Request) error {
		zap.L().Debug(fmt.Sprintf("call filter(%s) before", stack.Type), zap.String("path", ctx.Path))
		err := call(ctx, writer, request, parentCall)
		zap.L().Debug(fmt.Sprintf("call filter(%s) after", stack.Type), zap.String("path", ctx.Path), zap.Error(err))
		return err
	}
}

// Chain composes filters outermost first; the innermost call reports not found.
func Chain(filters ...Filter) NextCall {
	call := NotFoundNextCall
	for i := len(filters) - 1; i >= 0; i-- {
		call = NextCallWrapper(filters[i].Call, call, filters[i])
	}
	return call
}

type NextCall func(
	ctx FilterContext,
	writer http.ResponseWriter,
	request *http.Request,
) error

var NotFoundNextCall NextCall = func(ctx FilterContext, writer http.ResponseWriter, request *http.Request) error {
	return os.ErrNotExist
}

type FilterCall func(
	ctx FilterContext,
	writer http.ResponseWriter,
	request *http.Request,
	next NextCall,
) error

type FilterInstance func(params Params) (FilterCall, error)
