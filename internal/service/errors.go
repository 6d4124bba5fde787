package service

import (
	"errors"
)

// Ошибки сервиса
var (
	ErrInvalidURL         = errors.New("невалидный URL")
	ErrInvalidCode        = errors.New("невалидный короткий код")
	ErrBlockedDomain      = errors.New("домен в чёрном списке")
	ErrCodeTaken          = errors.New("короткий код уже занят")
	ErrNotFound           = errors.New("ссылка не найдена")
	ErrUnauthorized       = errors.New("требуется авторизация")
	ErrInvalidDestination = errors.New("невалидный адрес назначения")
)
