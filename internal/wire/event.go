package wire

import (
	"github.com/go-faster/jx"

	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

// Event encodes a lifecycle event for the message bus.
func Event(id string, ev coupon.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id)
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("at")
	encodeTime(&e, &ev.At)
	if ev.Actor != "" {
		e.FieldStart("actor")
		e.Str(ev.Actor)
	}
	e.FieldStart("coupon")
	EncodeCoupon(&e, &ev.Coupon)
	e.ObjEnd()
	return e.Bytes()
}

// ExportRecord is one scan log line of an export, tagged with the status of
// the parent coupon.
func ExportRecord(e *jx.Encoder, code string, status coupon.Status, s *coupon.ScanEntry) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("status")
	e.Str(status.String())
	e.FieldStart("scan")
	EncodeScanEntry(e, s)
	e.ObjEnd()
}
