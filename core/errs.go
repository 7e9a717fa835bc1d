package core

import "errors"

var (
	ErrPairIDEmpty   = errors.New("empty pair id")
	ErrAssetEmpty    = errors.New("empty asset address")
	ErrNegativeValue = errors.New("negative value")
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("upstream unavailable")
	ErrUnorderable   = errors.New("record has no usable ordering key")
)
