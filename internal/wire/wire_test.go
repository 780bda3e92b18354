package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

func TestCoupon(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	approved := created.Add(time.Hour)

	t.Run("Pending", func(t *testing.T) {
		c := &coupon.Coupon{ID: 1, Code: "OFF20-AB12CD", Discount: 20, Status: coupon.StatusPending, OwnerID: 5, CreatedAt: created}
		assert.JSONEq(t, `{
			"id": 1, "code": "OFF20-AB12CD", "discount": 20, "status": "pending", "owner_id": 5,
			"created_at": "2024-01-01T00:00:00Z",
			"approved_by": null, "approved_at": null, "used_at": null, "scanned_count": 0
		}`, string(Coupon(c)))
	})
	t.Run("Approved", func(t *testing.T) {
		c := &coupon.Coupon{
			ID: 2, Code: "OFF10-XXXXXX", Discount: 10, Status: coupon.StatusApproved, OwnerID: 5,
			CreatedAt: created, ApprovedBy: auth.RoleVendor, ApprovedAt: &approved, ScannedCount: 3,
		}
		assert.JSONEq(t, `{
			"id": 2, "code": "OFF10-XXXXXX", "discount": 10, "status": "approved", "owner_id": 5,
			"created_at": "2024-01-01T00:00:00Z",
			"approved_by": "vendor", "approved_at": "2024-01-01T01:00:00Z", "used_at": null, "scanned_count": 3
		}`, string(Coupon(c)))
	})
}

func TestCoupons_Empty(t *testing.T) {
	assert.JSONEq(t, `{"coupons":[]}`, string(Coupons(nil)))
}

func TestRedeemed(t *testing.T) {
	c := &coupon.Coupon{Code: "OFF20-AB12CD", Discount: 20, Status: coupon.StatusUsed}
	savings := c.Apply(decimal.RequireFromString("50"))

	var got map[string]any
	require.NoError(t, decodeAny(Redeemed(c, &savings), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, map[string]any{"subtotal": "50.00", "discount": "10.00", "total": "40.00"}, got["savings"])

	assert.JSONEq(t, `{"success":false,"message":"Coupon not active"}`, string(RedeemFailed(coupon.ReasonNotActive)))
}

func TestDenied(t *testing.T) {
	next := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	assert.JSONEq(t,
		`{"error":"You can only request one coupon per week","next_allowed":"2024-01-08T00:00:00Z"}`,
		string(Denied(&coupon.DeniedError{OwnerID: 1, NextAllowedAt: next})),
	)
}

func TestDecodeRedeemRequest(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "empty body", in: ""},
		{name: "empty object", in: `{}`},
		{name: "null", in: `{"subtotal":null}`},
		{name: "string", in: `{"subtotal":"12.50"}`, want: "12.5"},
		{name: "number", in: `{"subtotal":99.99,"extra":[1,2]}`, want: "99.99"},
		{name: "negative", in: `{"subtotal":"-1"}`, wantErr: true},
		{name: "garbage", in: `{"subtotal":"abc"}`, wantErr: true},
		{name: "bool", in: `{"subtotal":true}`, wantErr: true},
		{name: "not json", in: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRedeemRequest([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got.Subtotal)
				return
			}
			require.NotNil(t, got.Subtotal)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(*got.Subtotal))
		})
	}
}

func TestEvent(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := coupon.Event{
		Type:   coupon.EventApproved,
		At:     at,
		Coupon: coupon.Coupon{ID: 1, Code: "OFF20-AB12CD", Discount: 20, Status: coupon.StatusApproved, CreatedAt: at},
		Actor:  "admin",
	}

	var got map[string]any
	require.NoError(t, decodeAny(Event("evt-1", ev), &got))
	assert.Equal(t, "evt-1", got["id"])
	assert.Equal(t, "coupon.approved", got["type"])
	assert.Equal(t, "admin", got["actor"])
	assert.Equal(t, "OFF20-AB12CD", got["coupon"].(map[string]any)["code"])
}
