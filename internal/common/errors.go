package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// service specific errors
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// sync specific errors
	ErrVersionConflict = errors.New("version conflict")
	ErrValidation      = errors.New("validation error")
	ErrUnavailable     = errors.New("unavailable")

	// token specific errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
