package tracing

import (
	"context"
	"errors"

	"github.com/savethedate/payments/pkg/errkind"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var safeAttributeKeys = map[attribute.Key]struct{}{
	"request_id":              {},
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"paystack.event":          {},
	"paystack.endpoint":       {},
	"job":                     {},
}

// SafeAttributes keeps only allowlisted span attributes. References, emails
// and amounts are never attached to spans.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := safeAttributeKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError reduces err to a class name suitable for span events. Kinded
// errors report their kind; gateway messages can echo contributor details.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New("deadline_exceeded")
	case errors.Is(err, context.Canceled):
		return errors.New("canceled")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.New("record_not_found")
	case errkind.Of(err) != "":
		return errors.New(string(errkind.Of(err)))
	default:
		return errors.New("internal_error")
	}
}
