// Package wire encodes coupon core results as JSON with go-faster/jx.
package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

// TimeFormat is used for every timestamp on the wire.
const TimeFormat = time.RFC3339Nano

func encodeTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(TimeFormat))
}

// EncodeCoupon writes c as a JSON object.
func EncodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discount")
	e.Int(c.Discount)
	e.FieldStart("status")
	e.Str(c.Status.String())
	e.FieldStart("owner_id")
	e.Int64(c.OwnerID)
	e.FieldStart("created_at")
	encodeTime(e, &c.CreatedAt)
	e.FieldStart("approved_by")
	if c.ApprovedBy == "" {
		e.Null()
	} else {
		e.Str(c.ApprovedBy.String())
	}
	e.FieldStart("approved_at")
	encodeTime(e, c.ApprovedAt)
	e.FieldStart("used_at")
	encodeTime(e, c.UsedAt)
	e.FieldStart("scanned_count")
	e.Int(c.ScannedCount)
	e.ObjEnd()
}

// Coupon returns c encoded as a standalone document.
func Coupon(c *coupon.Coupon) []byte {
	var e jx.Encoder
	EncodeCoupon(&e, c)
	return e.Bytes()
}

// Coupons encodes a list of coupons as {"coupons":[...]}.
func Coupons(list []coupon.Coupon) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("coupons")
	e.ArrStart()
	for i := range list {
		EncodeCoupon(&e, &list[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

// EncodeScanEntry writes one audit entry.
func EncodeScanEntry(e *jx.Encoder, s *coupon.ScanEntry) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(s.ID)
	e.FieldStart("coupon_id")
	e.Int64(s.CouponID)
	e.FieldStart("user_agent")
	e.Str(s.UserAgent)
	e.FieldStart("source_address")
	e.Str(s.SourceAddress)
	e.FieldStart("scanned_at")
	encodeTime(e, &s.ScannedAt)
	e.ObjEnd()
}

// ScanLog encodes entries as {"scans":[...]}.
func ScanLog(entries []coupon.ScanEntry) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("scans")
	e.ArrStart()
	for i := range entries {
		EncodeScanEntry(&e, &entries[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

// Reviewed is the response to approve and reject.
func Reviewed(c *coupon.Coupon) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("ok")
	e.Bool(true)
	e.FieldStart("coupon")
	EncodeCoupon(&e, c)
	e.ObjEnd()
	return e.Bytes()
}

// Redeemed is the success response to a redemption. savings is nil when the
// request carried no subtotal.
func Redeemed(c *coupon.Coupon, savings *coupon.Savings) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("discount")
	e.Int(c.Discount)
	e.FieldStart("coupon")
	EncodeCoupon(&e, c)
	if savings != nil {
		e.FieldStart("savings")
		e.ObjStart()
		e.FieldStart("subtotal")
		e.Str(savings.Subtotal.StringFixed(2))
		e.FieldStart("discount")
		e.Str(savings.Discount.StringFixed(2))
		e.FieldStart("total")
		e.Str(savings.Total.StringFixed(2))
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

// RedeemFailed is the failure response to a redemption.
func RedeemFailed(reason string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("message")
	e.Str(reason)
	e.ObjEnd()
	return e.Bytes()
}

// Denied is the response to a throttled issuance request.
func Denied(d *coupon.DeniedError) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("error")
	e.Str("You can only request one coupon per week")
	e.FieldStart("next_allowed")
	encodeTime(&e, &d.NextAllowedAt)
	e.ObjEnd()
	return e.Bytes()
}

// Deleted reports how many coupons were removed.
func Deleted(n int64) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("deleted")
	e.Int64(n)
	e.ObjEnd()
	return e.Bytes()
}

// Error is the generic {"error": message} body.
func Error(message string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("error")
	e.Str(message)
	e.ObjEnd()
	return e.Bytes()
}

// RedeemRequest is the optional body of a redemption.
type RedeemRequest struct {
	// Subtotal is nil when absent.
	Subtotal *decimal.Decimal
}

// DecodeRedeemRequest parses {"subtotal": "12.50"}; the subtotal may also be a
// JSON number. An empty body is a request without subtotal.
func DecodeRedeemRequest(data []byte) (RedeemRequest, error) {
	var req RedeemRequest
	if len(data) == 0 {
		return req, nil
	}

	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "subtotal":
			return decodeSubtotal(d, &req)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return RedeemRequest{}, errors.Wrap(err, "decode redeem request")
	}
	if req.Subtotal != nil && req.Subtotal.IsNegative() {
		return RedeemRequest{}, errors.Errorf("subtotal %s is negative", req.Subtotal)
	}
	return req, nil
}

func decodeSubtotal(d *jx.Decoder, req *RedeemRequest) error {
	var raw string
	switch d.Next() {
	case jx.Null:
		return d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		raw = n.String()
	default:
		return errors.New("subtotal must be a string or number")
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return errors.Wrapf(err, "subtotal %q", raw)
	}
	req.Subtotal = &v
	return nil
}
