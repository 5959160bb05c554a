package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrConflict 表示乐观事务在重试次数内仍然冲突
	ErrConflict = errors.New("repository: concurrent update conflict")
)

var (
	ErrMemberNotFound   = ErrNotFound
	ErrRoomNotFound     = ErrNotFound
	ErrDocumentNotFound = ErrNotFound
)
