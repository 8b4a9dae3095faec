package store

import "errors"

// Общие ошибки хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — run с таким ID уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrActiveRunExists — для installation уже есть активный run.
	// Инвариант «не более одного активного run на installation»
	// закреплён на уровне хранилища.
	ErrActiveRunExists = errors.New("installation already has an active run")
)
