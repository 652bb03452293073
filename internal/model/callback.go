package model

// CallbackKind identifies which parse branch a response should be routed to.
type CallbackKind int

const (
	CallbackBootstrap CallbackKind = iota
	CallbackParseItem
	CallbackParsePagination
	CallbackCustom
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackBootstrap:
		return "bootstrap"
	case CallbackParseItem:
		return "parse_item"
	case CallbackParsePagination:
		return "parse_pagination"
	case CallbackCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Callback is carried from a Request to its Response so the spider knows
// which parse branch applies.
type Callback struct {
	Kind CallbackKind
	Name string // only set when Kind == CallbackCustom
}

// Bootstrap is the default callback used for a spider's initial requests.
func Bootstrap() Callback { return Callback{Kind: CallbackBootstrap} }

// ParseItem tags a request as leading to an item detail page.
func ParseItem() Callback { return Callback{Kind: CallbackParseItem} }

// ParsePagination tags a request as leading to a pagination/listing page.
func ParsePagination() Callback { return Callback{Kind: CallbackParsePagination} }

// CustomCallback tags a request with a spider-defined callback name.
func CustomCallback(name string) Callback {
	return Callback{Kind: CallbackCustom, Name: name}
}
