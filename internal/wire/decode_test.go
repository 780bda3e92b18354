package wire

import (
	"github.com/go-faster/jx"
)

// decodeAny decodes data into a generic map for assertions.
func decodeAny(data []byte, out *map[string]any) error {
	v, err := decodeValue(jx.DecodeBytes(data))
	if err != nil {
		return err
	}
	*out, _ = v.(map[string]any)
	return nil
}

func decodeValue(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.Object:
		m := map[string]any{}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			v, err := decodeValue(d)
			if err != nil {
				return err
			}
			m[key] = v
			return nil
		})
		return m, err
	case jx.Array:
		var list []any
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := decodeValue(d)
			if err != nil {
				return err
			}
			list = append(list, v)
			return nil
		})
		return list, err
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		return n.String(), nil
	case jx.Bool:
		return d.Bool()
	default:
		return nil, d.Null()
	}
}
