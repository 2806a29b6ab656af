package paging

import (
	"errors"
	"strconv"
)

const (
	DefaultNum  = 1
	DefaultSize = 10
	MaxSize     = 100
)

// ErrInvalid indicates a page number or size below one.
var ErrInvalid = errors.New("paging: page number and size must be >= 1")

// Request is a validated 1-based page request.
type Request struct {
	Num  int `json:"page_num"`
	Size int `json:"page_size"`
}

// New validates num and size. Sizes above MaxSize are clamped.
func New(num, size int) (Request, error) {
	if num < 1 || size < 1 {
		return Request{}, ErrInvalid
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Request{Num: num, Size: size}, nil
}

// Parse reads raw query values, applying defaults for empty strings.
func Parse(rawNum, rawSize string) (Request, error) {
	num, err := parseOrDefault(rawNum, DefaultNum)
	if err != nil {
		return Request{}, err
	}
	size, err := parseOrDefault(rawSize, DefaultSize)
	if err != nil {
		return Request{}, err
	}
	return New(num, size)
}

// Offset returns the number of rows to skip.
func (r Request) Offset() int {
	if r.Num < 1 {
		return 0
	}
	return (r.Num - 1) * r.Size
}

// Limit returns the page size.
func (r Request) Limit() int {
	return r.Size
}

// HasNext reports whether rows remain past this page.
func (r Request) HasNext(total int64) bool {
	return total > int64(r.Num)*int64(r.Size)
}

func parseOrDefault(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalid
	}
	return value, nil
}
