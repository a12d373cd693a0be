package cloesce

import (
	"encoding/json"
	"net/http"
)

// envelope is the tagged result every route answers with:
//
//	{"ok": true, "status": 200, "data": ...}
//	{"ok": false, "status": 404, "code": "not_found", "message": "..."}
type envelope struct {
	OK      bool           `json:"ok"`
	Status  int            `json:"status"`
	Data    any            `json:"data,omitempty"`
	Code    ErrorCode      `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// success always carries its data key, even when the data is null.
type success struct {
	OK     bool `json:"ok"`
	Status int  `json:"status"`
	Data   any  `json:"data"`
}

func failure(status int, err *Error) envelope {
	return envelope{Status: status, Code: err.Code, Message: err.Message, Details: err.Details}
}

func writeResult(w http.ResponseWriter, res envelope) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	if res.OK {
		return json.NewEncoder(w).Encode(success{OK: true, Status: res.Status, Data: res.Data})
	}
	return json.NewEncoder(w).Encode(res)
}

// resulter is implemented by HttpResult.
type resulter interface {
	result() envelope
}

// HttpResult lets a handler choose the status of its result. The zero
// Status means 200 on success and 500 on failure.
type HttpResult[T any] struct {
	OK      bool
	Status  int
	Data    T
	Message string
}

// Ok returns a successful result carrying data.
func Ok[T any](status int, data T) HttpResult[T] {
	return HttpResult[T]{OK: true, Status: status, Data: data}
}

// Fail returns a failed result. Failures carry no data.
func Fail[T any](status int, message string) HttpResult[T] {
	return HttpResult[T]{Status: status, Message: message}
}

func (r HttpResult[T]) result() envelope {
	if r.OK {
		status := r.Status
		if status == 0 {
			status = http.StatusOK
		}
		return envelope{OK: true, Status: status, Data: r.Data}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return envelope{Status: status, Code: CodeForStatus(status), Message: r.Message}
}
