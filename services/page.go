package services

import "bankcards/database"

// Page - страница результатов
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

func newPage[M any, T any](items []M, total int64, p database.Pagination, mapFn func(*M) T) Page[T] {
	p = p.Normalize()
	content := make([]T, 0, len(items))
	for i := range items {
		content = append(content, mapFn(&items[i]))
	}
	return Page[T]{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: total,
		TotalPages:    int((total + int64(p.Size) - 1) / int64(p.Size)),
	}
}
