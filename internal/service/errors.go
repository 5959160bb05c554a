package service

import (
	"errors"

	"collab-presence/internal/repository"
)

var (
	ErrInvalidRoom    = errors.New("invalid room id")
	ErrInvalidMember  = errors.New("invalid member id")
	ErrRoomNotFound   = errors.New("room not found")
	ErrInternalServer = errors.New("internal server error")
)

// mapRepoError 将仓库层错误映射为服务层错误。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoomNotFound
	}
	return ErrInternalServer
}
