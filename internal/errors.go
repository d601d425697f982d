package internal

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	// ErrCodeRoomNotFound 房間不存在（加入目標不存在）
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeInvalidPayload 訊息格式錯誤
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	// ErrCodeUnknownEvent 未知事件
	ErrCodeUnknownEvent = "UNKNOWN_EVENT"
	// ErrCodeNotInRoom 連接尚未加入房間
	ErrCodeNotInRoom = "NOT_IN_ROOM"
	// ErrCodeAlreadyInRoom 連接已屬於某個房間
	ErrCodeAlreadyInRoom = "ALREADY_IN_ROOM"
	// ErrCodeRoomIDExhausted 房間 ID 重試耗盡
	ErrCodeRoomIDExhausted = "ROOM_ID_EXHAUSTED"
	// ErrCodeConnectionGone 連接已不存在
	ErrCodeConnectionGone = "CONNECTION_GONE"
	// ErrCodeSendBufferFull 發送緩衝區已滿
	ErrCodeSendBufferFull = "SEND_BUFFER_FULL"
	// ErrCodeRegistry 註冊表後端錯誤
	ErrCodeRegistry = "REGISTRY_UNAVAILABLE"
)

// AppError 應用程式錯誤
//
// Code 會原樣回傳給客戶端（error 事件），Err 只進日誌。
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewAppError 創建應用程式錯誤
func NewAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapAppError 包裝底層錯誤
func WrapAppError(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// 預定義錯誤
var (
	ErrRoomNotFound    = NewAppError(ErrCodeRoomNotFound, "room not found")
	ErrNotInRoom       = NewAppError(ErrCodeNotInRoom, "connection has not joined a room")
	ErrAlreadyInRoom   = NewAppError(ErrCodeAlreadyInRoom, "connection already belongs to a room")
	ErrRoomIDExhausted = NewAppError(ErrCodeRoomIDExhausted, "could not allocate a unique room id")
	ErrConnectionGone  = NewAppError(ErrCodeConnectionGone, "connection is not active")
	ErrSendBufferFull  = NewAppError(ErrCodeSendBufferFull, "send buffer full")
)

// ErrorCode 取出錯誤碼，非 AppError 一律視為註冊表錯誤
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeRegistry
}

// IsRoomNotFound 檢查是否為房間不存在
func IsRoomNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound)
}
