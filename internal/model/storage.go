package model

import "time"

// StorageCategoryKind tags which of the fixed storage categories applies.
type StorageCategoryKind int

const (
	StorageData StorageCategoryKind = iota
	StorageErrorCat
	StorageRaw
	StorageCustom
)

// StorageCategory addresses which backend a spider write targets.
type StorageCategory struct {
	Kind StorageCategoryKind
	Name string // only set when Kind == StorageCustom
}

func DataCategory() StorageCategory  { return StorageCategory{Kind: StorageData} }
func ErrorCategory() StorageCategory { return StorageCategory{Kind: StorageErrorCat} }
func RawCategory() StorageCategory   { return StorageCategory{Kind: StorageRaw} }
func CustomStorageCategory(name string) StorageCategory {
	return StorageCategory{Kind: StorageCustom, Name: name}
}

func (c StorageCategory) String() string {
	switch c.Kind {
	case StorageData:
		return "data"
	case StorageErrorCat:
		return "error"
	case StorageRaw:
		return "raw"
	case StorageCustom:
		return "custom:" + c.Name
	default:
		return "unknown"
	}
}

// StorageItem is a generic, typed payload a spider hands to a sink.
type StorageItem[T any] struct {
	URL       string
	Timestamp time.Time
	Data      T
	Metadata  map[string]any
	ID        string
}
