package sip

// Category groups final SIP status codes for reporting.
type Category int

// Status categories.
const (
	CategoryUnknown Category = iota
	CategoryAuthRequired
	CategoryNotFound
	CategoryBusy
	CategoryTimeout
	CategoryServerError
	CategoryClientError
	CategoryRedirect
)

// CategoryFromStatus maps a final status code to its category.
func CategoryFromStatus(code int) Category {
	switch {
	case code == 401 || code == 407:
		return CategoryAuthRequired
	case code == 404:
		return CategoryNotFound
	case code == 486 || code == 600 || code == 603:
		return CategoryBusy
	case code == 408 || code == 480 || code == 504:
		return CategoryTimeout
	case code >= 500 && code <= 599:
		return CategoryServerError
	case code >= 400 && code <= 499:
		return CategoryClientError
	case code >= 300 && code <= 399:
		return CategoryRedirect
	default:
		return CategoryUnknown
	}
}

// String returns the snake_case name used in log fields.
func (c Category) String() string {
	switch c {
	case CategoryAuthRequired:
		return "auth_required"
	case CategoryNotFound:
		return "not_found"
	case CategoryBusy:
		return "busy"
	case CategoryTimeout:
		return "timeout"
	case CategoryServerError:
		return "server_error"
	case CategoryClientError:
		return "client_error"
	case CategoryRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Description returns the human readable text used in alerts.
func (c Category) Description() string {
	switch c {
	case CategoryAuthRequired:
		return "SIP authentication required"
	case CategoryNotFound:
		return "Number not found"
	case CategoryBusy:
		return "Line busy or call declined"
	case CategoryTimeout:
		return "Call timeout"
	case CategoryServerError:
		return "SIP server error"
	case CategoryClientError:
		return "SIP client error"
	case CategoryRedirect:
		return "Call redirected"
	default:
		return "Unknown SIP error"
	}
}

// Transient reports whether a call rejected with this category may succeed
// on a later attempt.
func (c Category) Transient() bool {
	switch c {
	case CategoryBusy, CategoryTimeout, CategoryServerError:
		return true
	default:
		return false
	}
}
